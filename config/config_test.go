package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, "reject", cfg.Ledger.StockSalePolicy)
	assert.Equal(t, 10*time.Minute, cfg.Reconcile.LockTTL)
}

func TestEmptyValuesDisableOptionalBackends(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " , ")
	t.Setenv("REDIS_ADDR", "")

	cfg := Load()
	assert.False(t, cfg.KafkaEnabled())
	assert.False(t, cfg.RedisEnabled())
}

func TestBrokerList(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, Load().Kafka.Brokers)
}
