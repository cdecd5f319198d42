// Package schedule arms recurring parent-bot messages persisted in the
// registry. Specs come in two shapes: "daily:HH:MM" and
// "weekly:<day>:HH:MM".
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/yerzhan-dev/manybot/internal/registry"
	"github.com/yerzhan-dev/manybot/internal/telegram"
	"github.com/yerzhan-dev/manybot/pkg/logger"
)

var ErrBadSpec = errors.New("unrecognized schedule spec")

// Spec is a parsed schedule expression.
type Spec struct {
	Weekly  bool
	Weekday time.Weekday
	Hour    int
	Minute  int
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseSpec parses "daily:HH:MM" or "weekly:<day>:HH:MM".
func ParseSpec(raw string) (Spec, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(raw)), ":")

	switch {
	case len(parts) == 3 && parts[0] == "daily":
		hour, minute, err := parseTime(parts[1], parts[2])
		if err != nil {
			return Spec{}, err
		}
		return Spec{Hour: hour, Minute: minute}, nil

	case len(parts) == 4 && parts[0] == "weekly":
		day, ok := weekdays[parts[1]]
		if !ok {
			return Spec{}, fmt.Errorf("%w: unknown weekday %q", ErrBadSpec, parts[1])
		}
		hour, minute, err := parseTime(parts[2], parts[3])
		if err != nil {
			return Spec{}, err
		}
		return Spec{Weekly: true, Weekday: day, Hour: hour, Minute: minute}, nil

	default:
		return Spec{}, fmt.Errorf("%w: %q", ErrBadSpec, raw)
	}
}

func parseTime(hh, mm string) (int, int, error) {
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: bad hour %q", ErrBadSpec, hh)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: bad minute %q", ErrBadSpec, mm)
	}
	return hour, minute, nil
}

func (s Spec) jobDefinition() gocron.JobDefinition {
	at := gocron.NewAtTimes(gocron.NewAtTime(uint(s.Hour), uint(s.Minute), 0))
	if s.Weekly {
		return gocron.WeeklyJob(1, gocron.NewWeekdays(s.Weekday), at)
	}
	return gocron.DailyJob(1, at)
}

// Runner owns the gocron scheduler and the jobs armed from persisted
// schedules.
type Runner struct {
	sched       gocron.Scheduler
	reg         *registry.Registry
	api         telegram.API
	parentToken string
	log         logger.Logger
}

func NewRunner(reg *registry.Registry, api telegram.API, parentToken string, log logger.Logger) (*Runner, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Runner{
		sched:       sched,
		reg:         reg,
		api:         api,
		parentToken: parentToken,
		log:         log,
	}, nil
}

// Start re-arms every persisted schedule and begins running jobs. A
// schedule that no longer parses is skipped with a warning rather than
// blocking startup.
func (r *Runner) Start(ctx context.Context) error {
	schedules, err := r.reg.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	for key, sc := range schedules {
		if err := r.Arm(key, sc); err != nil {
			r.log.Warn("skipping unparseable schedule",
				zap.String("key", key),
				zap.String("spec", sc.Spec),
				zap.Error(err))
		}
	}

	r.sched.Start()
	r.log.Info("scheduler started", zap.Int("schedules", len(schedules)))
	return nil
}

// Arm registers one schedule with the running scheduler.
func (r *Runner) Arm(key string, sc *registry.Schedule) error {
	spec, err := ParseSpec(sc.Spec)
	if err != nil {
		return err
	}

	chatID, text := sc.ChatID, sc.Text
	_, err = r.sched.NewJob(
		spec.jobDefinition(),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := r.api.SendMessage(ctx, r.parentToken, chatID, text); err != nil {
				r.log.Error("scheduled send failed",
					zap.String("key", key),
					zap.Int64("chat_id", chatID),
					zap.Error(err))
			}
		}),
		gocron.WithName(key),
	)
	if err != nil {
		return fmt.Errorf("failed to arm schedule %s: %w", key, err)
	}
	return nil
}

// Every registers a recurring maintenance job, such as the session
// sweeper.
func (r *Runner) Every(interval time.Duration, name string, fn func()) error {
	_, err := r.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
	)
	return err
}

func (r *Runner) Shutdown() error {
	return r.sched.Shutdown()
}
