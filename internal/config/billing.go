package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingPolicy holds operator-tunable billing behavior. It is read
// from billing.yml and hot-reloaded, so the scheduler picks up due
// term or grace period changes without a restart.
type BillingPolicy struct {
	// DueTermDays is the span between invoice issue and due date.
	DueTermDays int `mapstructure:"dueTermDays"`
	// GraceDays is how long past due an invoice may sit before the
	// subscription is suspended by the scheduler sweep.
	GraceDays int `mapstructure:"graceDays"`
	// RunInterval is the scheduler tick.
	RunInterval time.Duration `mapstructure:"runInterval"`
	// CronSpec, when set, replaces RunInterval with a cron schedule.
	CronSpec string `mapstructure:"cronSpec"`
	// BatchSize caps subscriptions claimed per scheduler pass.
	BatchSize int `mapstructure:"batchSize"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		DueTermDays: 14,
		GraceDays:   7,
		RunInterval: time.Minute,
		BatchSize:   50,
	}
}

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

func NewBillingPolicyHolder() (*BillingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/invora/config") // Volume-mounted config
	v.AddConfigPath("/etc/invora")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("INVORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultBillingPolicy()
		v.SetDefault("billing.dueTermDays", defaults.DueTermDays)
		v.SetDefault("billing.graceDays", defaults.GraceDays)
		v.SetDefault("billing.runInterval", defaults.RunInterval)
		v.SetDefault("billing.batchSize", defaults.BatchSize)
	}

	var policy BillingPolicy
	if err := v.UnmarshalKey("billing", &policy); err != nil {
		return nil, err
	}
	if err := validateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingPolicy
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-policy] reload failed: %v", err)
			return
		}
		if err := validateBillingPolicy(updated); err != nil {
			log.Printf("[billing-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingPolicyHolder returns a holder pinned to the given
// policy, for tests and embedded use.
func NewStaticBillingPolicyHolder(policy BillingPolicy) *BillingPolicyHolder {
	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

func validateBillingPolicy(policy BillingPolicy) error {
	if policy.DueTermDays < 0 {
		return errors.New("billing.dueTermDays cannot be negative")
	}
	if policy.GraceDays < 0 {
		return errors.New("billing.graceDays cannot be negative")
	}
	if policy.BatchSize <= 0 {
		return errors.New("billing.batchSize must be positive")
	}
	return nil
}
