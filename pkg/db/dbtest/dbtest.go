// Package dbtest opens throwaway sqlite databases carrying the billing schema.
package dbtest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/settla/settla-backend/pkg/db"
	"github.com/settla/settla-backend/pkg/db/models"
	"github.com/settla/settla-backend/pkg/enums"
)

var schema = []string{
	`CREATE TABLE users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  first_name TEXT,
  last_name TEXT,
  role TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE tiers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  rank INTEGER NOT NULL DEFAULT 0,
  description TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE plans (
  id TEXT PRIMARY KEY,
  tier_id TEXT NOT NULL REFERENCES tiers(id),
  duration TEXT NOT NULL,
  price NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  external_plan_code TEXT UNIQUE,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT plans_tier_duration_key UNIQUE (tier_id, duration)
);`,
	`CREATE TABLE subscriptions (
  id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  tier_id TEXT NOT NULL,
  start_date DATETIME NOT NULL,
  end_date DATETIME,
  next_payment_date DATETIME,
  is_active INTEGER NOT NULL DEFAULT 0,
  grace_period_end_date DATETIME,
  manually_granted INTEGER NOT NULL DEFAULT 0,
  external_subscription_code TEXT UNIQUE,
  external_customer_code TEXT,
  external_plan_code TEXT,
  email_token TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX subscriptions_one_active_per_agent ON subscriptions (agent_id) WHERE is_active = 1;`,
	`CREATE TABLE payments (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  subscription_id TEXT,
  reference TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  provider TEXT NOT NULL,
  purpose TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT payments_reference_key UNIQUE (reference)
);`,
	`CREATE TABLE paystack_customers (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  customer_code TEXT NOT NULL UNIQUE,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE listings (
  id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT,
  price NUMERIC NOT NULL,
  visibility TEXT NOT NULL,
  is_featured INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  read_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE activity_logs (
  id TEXT PRIMARY KEY,
  category TEXT NOT NULL,
  action TEXT NOT NULL,
  description TEXT NOT NULL,
  actor_id TEXT,
  metadata BLOB,
  created_at DATETIME
);`,
}

// New returns a gorm handle on a private in-memory database. The pool is
// capped at one connection so transactions serialize like row locks would.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + name + "_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

// NewClient wraps New in a db.Client.
func NewClient(t testing.TB) *db.Client {
	t.Helper()
	return db.FromGorm(New(t))
}

// SeedTiers inserts basic, premium and enterprise with monthly and yearly
// plans. Paid plans carry external codes PLN_<tier>_<duration>.
func SeedTiers(t testing.TB, conn *gorm.DB) map[enums.TierName]*models.Tier {
	t.Helper()

	prices := map[enums.TierName][2]int64{
		enums.TierBasic:      {0, 0},
		enums.TierPremium:    {5000, 50000},
		enums.TierEnterprise: {15000, 150000},
	}
	out := make(map[enums.TierName]*models.Tier, len(prices))
	for rank, name := range enums.TierNames() {
		tier := &models.Tier{Name: name, Rank: rank, Description: string(name)}
		require.NoError(t, conn.Omit("Plans").Create(tier).Error)
		for i, duration := range []enums.BillingDuration{enums.BillingDurationMonthly, enums.BillingDurationYearly} {
			plan := models.Plan{
				TierID:   tier.ID,
				Duration: duration,
				Price:    decimal.NewFromInt(prices[name][i]),
				Currency: "NGN",
			}
			if name != enums.TierBasic {
				code := "PLN_" + string(name) + "_" + duration.Lower()
				plan.ExternalPlanCode = &code
			}
			require.NoError(t, conn.Create(&plan).Error)
			tier.Plans = append(tier.Plans, plan)
		}
		out[name] = tier
	}
	return out
}

// SeedUser inserts a user with the given role.
func SeedUser(t testing.TB, conn *gorm.DB, role enums.UserRole) *models.User {
	t.Helper()
	id := uuid.New()
	user := &models.User{
		ID:        id,
		Email:     id.String() + "@settla.test",
		FirstName: "Ada",
		LastName:  "Obi",
		Role:      role,
	}
	require.NoError(t, conn.WithContext(context.Background()).Create(user).Error)
	return user
}

// Clock is a settable time source for code that takes a now func.
type Clock struct {
	T time.Time
}

// NewClock starts a clock at the given instant, normalized to UTC.
func NewClock(t time.Time) *Clock {
	return &Clock{T: t.UTC()}
}

func (c *Clock) Now() time.Time { return c.T }

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }
