package filtering

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"mqdiag/internal/config"
	"mqdiag/internal/constants"
	"mqdiag/internal/logger"
	"mqdiag/pkg/cel"
	"mqdiag/pkg/errors"
	"mqdiag/pkg/metrics"
	"mqdiag/pkg/models"
	"mqdiag/pkg/tracing"
)

// Service applies redaction rules to object events. Other events pass through.
type Service struct {
	repo            Repository
	rules           []Rule
	rulesMu         sync.RWMutex
	filteringConfig config.FilteringConfig
	evaluator       *cel.Evaluator
	logger          logger.Logger
}

func NewService(repo Repository, cfg config.FilteringConfig, log logger.Logger) (*Service, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &Service{
		repo:            repo,
		filteringConfig: cfg,
		rules:           make([]Rule, 0),
		evaluator:       evaluator,
		logger:          log,
	}, nil
}

func (s *Service) FilterEvent(ctx context.Context, event interface{}, destination string) (models.FilterResult, error) {
	ctx, span := tracing.GetTracer("filter").Start(ctx, "filter.event")
	defer span.End()

	obj, ok := event.(map[string]interface{})
	if !ok {
		return models.FilterResult{Filtered: event}, nil
	}

	filtered := deepCopy(obj).(map[string]interface{})
	result := models.FilterResult{}

	for _, rule := range s.Rules() {
		if err := ctx.Err(); err != nil {
			return models.FilterResult{}, errors.ErrFilter.WithCause(err)
		}

		matched, err := s.matches(ctx, rule, filtered, destination)
		if err != nil {
			if s.filteringConfig.Fallback.OnError == constants.FallbackSkip {
				metrics.IncFilterRuleApplication(rule.ID, "skipped")
				s.logger.WarnwCtx(ctx, "Rule evaluation failed, skipping rule",
					"rule_id", rule.ID,
					"rule_name", rule.Name,
					"error", err,
				)
				continue
			}
			metrics.IncFilterRuleApplication(rule.ID, "error")
			return models.FilterResult{}, errors.ErrFilter.
				WithMessage(fmt.Sprintf("rule %s: %v", rule.ID, err)).
				WithDetail("rule_id", rule.ID).
				WithCause(err)
		}
		if !matched {
			metrics.IncFilterRuleApplication(rule.ID, "unmatched")
			continue
		}

		filtered, result.RedactedFields = applyRule(rule, filtered, result.RedactedFields)
		result.AppliedRules = append(result.AppliedRules, rule.ID)
		metrics.IncFilterRuleApplication(rule.ID, "applied")
	}

	result.Filtered = filtered
	if len(result.AppliedRules) > 0 {
		s.logger.DebugwCtx(ctx, "Filter rules applied",
			"rules", result.AppliedRules,
			"redacted_fields", result.RedactedFields,
		)
	}
	return result, nil
}

func (s *Service) matches(ctx context.Context, rule Rule, event map[string]interface{}, destination string) (bool, error) {
	if rule.Condition == "" {
		return true, nil
	}
	return s.evaluator.EvaluateFilter(ctx, rule.Condition, event, destination)
}

func applyRule(rule Rule, event map[string]interface{}, redacted []string) (map[string]interface{}, []string) {
	switch rule.Action {
	case constants.FilterActionExclude:
		for _, path := range rule.Fields {
			if removePath(event, path) {
				redacted = append(redacted, path)
			}
		}
	case constants.FilterActionMask:
		for _, path := range rule.Fields {
			if maskPath(event, path, constants.DefaultMaskValue) {
				redacted = append(redacted, path)
			}
		}
	case constants.FilterActionInclude:
		event = project(event, rule.Fields)
	}
	return event, redacted
}

// Rules returns a snapshot of the active rules in evaluation order.
func (s *Service) Rules() []Rule {
	s.rulesMu.RLock()
	defer s.rulesMu.RUnlock()

	rules := make([]Rule, len(s.rules))
	copy(rules, s.rules)
	return rules
}

// ReloadRules replaces the rule set. Rules that fail validation are dropped and
// reported together; the valid rest is still installed.
func (s *Service) ReloadRules(ctx context.Context) error {
	s.logger.DebugwCtx(ctx, "Loading filter rules", "source", s.filteringConfig.Source)
	loaded, err := s.repo.GetActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load filter rules: %w", err)
	}

	var invalid *multierror.Error
	rules := make([]Rule, 0, len(loaded))
	for _, rule := range loaded {
		if err := s.validateRule(rule); err != nil {
			invalid = multierror.Append(invalid, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		rules = append(rules, rule)
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	s.rulesMu.Lock()
	s.rules = rules
	s.rulesMu.Unlock()
	s.evaluator.Forget()

	metrics.SetFilterActiveRules(len(rules))
	s.logger.InfowCtx(ctx, "Successfully reloaded filter rules",
		"rules_count", len(rules),
	)

	return invalid.ErrorOrNil()
}

func (s *Service) validateRule(rule Rule) error {
	switch rule.Action {
	case constants.FilterActionExclude, constants.FilterActionMask, constants.FilterActionInclude:
	default:
		return fmt.Errorf("unknown action %q", rule.Action)
	}
	if rule.Condition == "" {
		return nil
	}
	return s.evaluator.ValidateFilterExpression(rule.Condition)
}

// StartReloader reloads on every interval tick, shifted by up to
// MaxReloadJitterPercent so replicas do not hit the store together.
func (s *Service) StartReloader(ctx context.Context) error {
	interval := s.filteringConfig.Reload.Interval
	if interval <= 0 {
		interval = constants.DefaultReloadInterval
	}

	for {
		select {
		case <-time.After(withJitter(interval)):
			if err := s.ReloadRules(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload filter rules",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func withJitter(interval time.Duration) time.Duration {
	maxJitter := int64(interval) * constants.MaxReloadJitterPercent / 100
	if maxJitter <= 0 {
		return interval
	}
	return interval + time.Duration(rand.Int63n(maxJitter))
}
