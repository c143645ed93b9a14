package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/contactbook/internal/app/domain/contact"
	"github.com/R3E-Network/contactbook/internal/app/domain/user"
	"github.com/R3E-Network/contactbook/internal/app/services/mail"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

// Job names.
const (
	JobLimiterCleanup = "limiter-cleanup"
	JobBirthdayDigest = "birthday-digest"
)

// Sweeper drops idle rate limiter state.
type Sweeper interface {
	Sweep(now time.Time) int
}

// LimiterCleanup returns a job that sweeps idle limiter buckets.
func LimiterCleanup(sweeper Sweeper, log *logger.Logger) JobFunc {
	return func(ctx context.Context) error {
		if removed := sweeper.Sweep(time.Now()); removed > 0 {
			log.WithField("removed", removed).Debug("rate limiter buckets swept")
		}
		return nil
	}
}

// UserLister enumerates accounts.
type UserLister interface {
	ListUsers(ctx context.Context) ([]user.User, error)
}

// BirthdaySource lists a user's contacts with upcoming birthdays.
type BirthdaySource interface {
	Upcoming(ctx context.Context, userID int64, days int) ([]contact.Contact, error)
}

// Notifier queues outbound mail.
type Notifier interface {
	Enqueue(msg mail.Message) error
}

// BirthdayDigest returns a job that mails every confirmed user the contacts
// whose birthday falls within the next week. Users without upcoming
// birthdays get nothing.
func BirthdayDigest(users UserLister, contacts BirthdaySource, notifier Notifier, log *logger.Logger) JobFunc {
	return func(ctx context.Context) error {
		all, err := users.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		sent := 0
		for _, u := range all {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !u.Confirmed {
				continue
			}
			upcoming, err := contacts.Upcoming(ctx, u.ID, contact.BirthdayWindowDays)
			if err != nil {
				log.WithError(err).WithField("user_id", u.ID).Warn("birthday lookup failed")
				continue
			}
			if len(upcoming) == 0 {
				continue
			}
			msg := mail.DigestMessage(u.Email, u.Username, contact.BirthdayWindowDays, upcoming, time.Now())
			if err := notifier.Enqueue(msg); err != nil {
				return fmt.Errorf("queue digest: %w", err)
			}
			sent++
		}
		log.WithField("digests", sent).Info("birthday digest queued")
		return nil
	}
}
