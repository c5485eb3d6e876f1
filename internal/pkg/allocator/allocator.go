package allocator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/newmeca/membership/app/models"
)

const (
	KindDB     = "db"
	KindRedis  = "redis"
	KindMemory = "memory"

	redisCounterKey = "meca:id:counter"
)

// ErrCounterMissing is returned when the counter row has not been seeded.
var ErrCounterMissing = errors.New("meca_id_counter row missing")

// MySQLCounter hands out MECA IDs from the single-row meca_id_counter table.
// LAST_INSERT_ID(expr) ties the incremented value to the connection, so the UPDATE and the
// SELECT run inside one transaction to stay on the same connection.
type MySQLCounter struct {
	db *gorm.DB
}

// NewMySQLCounter creates a database-backed allocator
func NewMySQLCounter(db *gorm.DB) *MySQLCounter {
	return &MySQLCounter{db: db}
}

// Next returns the next MECA ID
func (c *MySQLCounter) Next(ctx context.Context) (int, error) {
	var next int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec("UPDATE meca_id_counter SET last_meca_id = LAST_INSERT_ID(last_meca_id + 1), updated_at = NOW() WHERE id = 1")
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCounterMissing
		}
		return tx.Raw("SELECT LAST_INSERT_ID()").Scan(&next).Error
	})
	if err != nil {
		return 0, fmt.Errorf("mysql counter: %w", err)
	}
	return int(next), nil
}

// Reserve moves the counter up to id so Next never hands it out.
func (c *MySQLCounter) Reserve(ctx context.Context, id int) error {
	res := c.db.WithContext(ctx).Exec("UPDATE meca_id_counter SET last_meca_id = GREATEST(last_meca_id, ?), updated_at = NOW() WHERE id = 1", id)
	if res.Error != nil {
		return fmt.Errorf("mysql counter reserve: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mysql counter reserve: %w", ErrCounterMissing)
	}
	return nil
}

// HighestIssued returns the largest MECA ID the database knows about: the counter row and
// every ID stored on a membership or profile. It never returns less than MecaIDFloor-1.
func HighestIssued(ctx context.Context, db *gorm.DB) (int, error) {
	highest := models.MecaIDFloor - 1
	sources := []struct {
		table  string
		column string
	}{
		{"meca_id_counter", "last_meca_id"},
		{"memberships", "meca_id"},
		{"profiles", "meca_id"},
	}
	for _, src := range sources {
		var v sql.NullInt64
		err := db.WithContext(ctx).Table(src.table).Select(fmt.Sprintf("MAX(%s)", src.column)).Row().Scan(&v)
		if err != nil {
			return 0, fmt.Errorf("max %s.%s: %w", src.table, src.column, err)
		}
		if v.Valid && int(v.Int64) > highest {
			highest = int(v.Int64)
		}
	}
	return highest, nil
}

// reserveScript raises the counter to ARGV[1] and never lowers it.
var reserveScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local want = tonumber(ARGV[1])
if want > cur then
	redis.call('SET', KEYS[1], want)
	return want
end
return cur
`)

// Redis hands out MECA IDs with INCR on a single key. A missing key is seeded from the
// highest ID the database has issued, or just below the floor without a database.
type Redis struct {
	rdb *redis.Client
	db  *gorm.DB
	key string
}

// NewRedis creates a Redis-backed allocator. db may be nil.
func NewRedis(rdb *redis.Client, db *gorm.DB) *Redis {
	return &Redis{rdb: rdb, db: db, key: redisCounterKey}
}

func (r *Redis) seed(ctx context.Context) error {
	exists, err := r.rdb.Exists(ctx, r.key).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}
	start := models.MecaIDFloor - 1
	if r.db != nil {
		if start, err = HighestIssued(ctx, r.db); err != nil {
			return err
		}
	}
	// another instance may have seeded in between; SetNX keeps its value
	return r.rdb.SetNX(ctx, r.key, start, 0).Err()
}

// Next returns the next MECA ID
func (r *Redis) Next(ctx context.Context) (int, error) {
	if err := r.seed(ctx); err != nil {
		return 0, fmt.Errorf("redis counter seed: %w", err)
	}
	v, err := r.rdb.Incr(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis counter incr: %w", err)
	}
	return int(v), nil
}

// Reserve moves the counter up to id so Next never hands it out.
func (r *Redis) Reserve(ctx context.Context, id int) error {
	if err := r.seed(ctx); err != nil {
		return fmt.Errorf("redis counter seed: %w", err)
	}
	if err := reserveScript.Run(ctx, r.rdb, []string{r.key}, id).Err(); err != nil {
		return fmt.Errorf("redis counter reserve: %w", err)
	}
	return nil
}

// Memory is a process-local allocator for tests and single-instance development.
type Memory struct {
	mu   sync.Mutex
	last int
}

// NewMemory creates an allocator whose first ID is models.MecaIDFloor
func NewMemory() *Memory {
	return &Memory{last: models.MecaIDFloor - 1}
}

// Next returns the next MECA ID
func (m *Memory) Next(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last++
	return m.last, nil
}

// Reserve moves the counter up to id so Next never hands it out.
func (m *Memory) Reserve(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id > m.last {
		m.last = id
	}
	return nil
}

// Allocator is satisfied by every implementation in this package.
type Allocator interface {
	Next(ctx context.Context) (int, error)
	Reserve(ctx context.Context, id int) error
}

// New selects an allocator by kind ("db", "redis" or "memory").
func New(kind string, db *gorm.DB, rdb *redis.Client) (Allocator, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindDB:
		if db == nil {
			return nil, errors.New("db allocator requires a database handle")
		}
		return NewMySQLCounter(db), nil
	case KindRedis:
		if rdb == nil {
			return nil, errors.New("redis allocator requires a redis client")
		}
		return NewRedis(rdb, db), nil
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown MECA ID allocator %q", kind)
	}
}
