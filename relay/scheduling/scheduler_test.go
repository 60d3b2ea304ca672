package scheduling

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Laisky/llm-gateway/common/config"
	"github.com/Laisky/llm-gateway/common/coord"
	"github.com/Laisky/llm-gateway/model"
	"github.com/Laisky/llm-gateway/relay/apiformat"
	_ "github.com/Laisky/llm-gateway/relay/convert"
	"github.com/Laisky/llm-gateway/relay/pool"
)

func newTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	prev := model.DB
	model.DB = db
	t.Cleanup(func() {
		model.DB = prev
		_ = sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(
		&model.Provider{},
		&model.Endpoint{},
		&model.ProviderKey{},
		&model.GlobalModel{},
		&model.ProviderModel{},
		&model.AccessToken{},
	))
}

func newTestPools(t *testing.T) (*pool.Registry, *coord.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := coord.NewClient(rdb)
	return pool.NewRegistry(store), store
}

func seedProvider(t *testing.T, p *model.Provider) {
	t.Helper()
	require.NoError(t, model.DB.Create(p).Error)
}

func seedGlobalModel(t *testing.T) *model.GlobalModel {
	t.Helper()
	gm := &model.GlobalModel{
		Id:            1,
		Name:          "test-model",
		TieredPricing: `[{"input_price_per_1m":1,"output_price_per_1m":2}]`,
	}
	require.NoError(t, model.DB.Create(gm).Error)
	return gm
}

func seedProviderModel(t *testing.T, providerId int64, active bool) {
	t.Helper()
	require.NoError(t, model.DB.Create(&model.ProviderModel{
		ProviderId:        providerId,
		GlobalModelId:     1,
		ProviderModelName: "test-model-upstream",
		Active:            active,
	}).Error)
}

func usableIds(cands []Candidate) []int64 {
	var out []int64
	for _, c := range cands {
		if !c.Skipped {
			out = append(out, c.Key.Id)
		}
	}
	return out
}

func TestBuildCandidatesExactDialectMatch(t *testing.T) {
	newTestDB(t)
	seedGlobalModel(t)
	seedProvider(t, &model.Provider{
		Id: 1, Name: "anthropic", Priority: 5, Active: true,
		Endpoints: []model.Endpoint{
			{Id: 1, Dialect: "claude:chat", BaseURL: "https://api.anthropic.com", Active: true},
		},
		Keys: []model.ProviderKey{
			{Id: 10, Active: true, InternalPriority: 1},
			{Id: 11, Active: true, InternalPriority: 2},
		},
	})
	seedProviderModel(t, 1, true)

	gm, err := model.GetGlobalModelByName("test-model")
	require.NoError(t, err)

	cands, err := BuildCandidates(&Request{
		Dialect:     apiformat.ClaudeChat,
		GlobalModel: gm,
	})
	require.NoError(t, err)
	require.Len(t, cands, 2)
	for _, c := range cands {
		require.False(t, c.Skipped)
		require.False(t, c.NeedsConversion)
		require.Equal(t, "test-model-upstream", c.UpstreamModelName())
	}
	// Higher internal priority leads within the provider.
	require.Equal(t, []int64{11, 10}, usableIds(cands))
}

func TestBuildCandidatesConversionRequiresOptIn(t *testing.T) {
	newTestDB(t)
	seedGlobalModel(t)
	// Speaks only OpenAI; conversion disabled.
	seedProvider(t, &model.Provider{
		Id: 1, Name: "closed", Priority: 5, Active: true,
		Endpoints: []model.Endpoint{
			{Id: 1, Dialect: "openai:chat", BaseURL: "https://a.example", Active: true},
		},
		Keys: []model.ProviderKey{{Id: 10, Active: true}},
	})
	// Speaks only OpenAI; conversion enabled.
	seedProvider(t, &model.Provider{
		Id: 2, Name: "open", Priority: 4, Active: true,
		EnableFormatConversion: true,
		Endpoints: []model.Endpoint{
			{Id: 2, Dialect: "openai:chat", BaseURL: "https://b.example", Active: true},
		},
		Keys: []model.ProviderKey{{Id: 20, Active: true}},
	})
	seedProviderModel(t, 1, true)
	seedProviderModel(t, 2, true)

	gm, err := model.GetGlobalModelByName("test-model")
	require.NoError(t, err)

	cands, err := BuildCandidates(&Request{
		Dialect:     apiformat.ClaudeChat,
		GlobalModel: gm,
	})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, int64(20), cands[0].Key.Id)
	require.True(t, cands[0].NeedsConversion)
}

func TestBuildCandidatesTokenRestrictions(t *testing.T) {
	newTestDB(t)
	seedGlobalModel(t)
	seedProvider(t, &model.Provider{
		Id: 1, Name: "allowed", Priority: 5, Active: true,
		Endpoints: []model.Endpoint{{Id: 1, Dialect: "claude:chat", BaseURL: "https://a.example", Active: true}},
		Keys:      []model.ProviderKey{{Id: 10, Active: true}},
	})
	seedProvider(t, &model.Provider{
		Id: 2, Name: "denied", Priority: 4, Active: true,
		Endpoints: []model.Endpoint{{Id: 2, Dialect: "claude:chat", BaseURL: "https://b.example", Active: true}},
		Keys:      []model.ProviderKey{{Id: 20, Active: true}},
	})
	seedProviderModel(t, 1, true)
	seedProviderModel(t, 2, true)

	gm, err := model.GetGlobalModelByName("test-model")
	require.NoError(t, err)

	allowed := `["allowed"]`
	cands, err := BuildCandidates(&Request{
		Dialect:     apiformat.ClaudeChat,
		GlobalModel: gm,
		Token:       &model.AccessToken{AllowedProviders: &allowed},
	})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Equal(t, int64(10), cands[0].Key.Id)
}

func TestBuildCandidatesSkipsWithReasons(t *testing.T) {
	newTestDB(t)
	seedGlobalModel(t)
	// Provider 1 implements the model; its key lacks the video capability.
	seedProvider(t, &model.Provider{
		Id: 1, Name: "capless", Priority: 5, Active: true,
		Endpoints: []model.Endpoint{{Id: 1, Dialect: "claude:chat", BaseURL: "https://a.example", Active: true}},
		Keys:      []model.ProviderKey{{Id: 10, Active: true, Capabilities: `["cache_1h"]`}},
	})
	// Provider 2 has no mapping for the model at all.
	seedProvider(t, &model.Provider{
		Id: 2, Name: "modeless", Priority: 4, Active: true,
		Endpoints: []model.Endpoint{{Id: 2, Dialect: "claude:chat", BaseURL: "https://b.example", Active: true}},
		Keys:      []model.ProviderKey{{Id: 20, Active: true}},
	})
	seedProviderModel(t, 1, true)

	gm, err := model.GetGlobalModelByName("test-model")
	require.NoError(t, err)

	cands, err := BuildCandidates(&Request{
		Dialect:      apiformat.ClaudeChat,
		GlobalModel:  gm,
		Capabilities: map[string]bool{"video": true},
	})
	require.NoError(t, err)
	require.Len(t, cands, 2)
	for _, c := range cands {
		require.True(t, c.Skipped)
	}
	bySkip := map[int64]string{}
	for _, c := range cands {
		bySkip[c.Key.Id] = c.SkipReason
	}
	require.Contains(t, bySkip[10], "video")
	require.Equal(t, SkipReasonNoModel, bySkip[20])
}

func TestOrderProviderFirstDemotesCooldownKeys(t *testing.T) {
	newTestDB(t)
	seedGlobalModel(t)
	seedProvider(t, &model.Provider{
		Id: 1, Name: "anthropic", Priority: 5, Active: true,
		Endpoints: []model.Endpoint{{Id: 1, Dialect: "claude:chat", BaseURL: "https://a.example", Active: true}},
		Keys: []model.ProviderKey{
			{Id: 10, Active: true},
			{Id: 11, Active: true},
		},
	})
	seedProviderModel(t, 1, true)

	pools, _ := newTestPools(t)
	scheduler := NewScheduler(pools, config.SchedulerSettings{Mode: "provider_first"})

	manager, err := pools.Manager(1, "")
	require.NoError(t, err)
	manager.OnRequestError(context.Background(), 10, pool.UpstreamError{StatusCode: 429})

	gm, err := model.GetGlobalModelByName("test-model")
	require.NoError(t, err)
	req := &Request{Dialect: apiformat.ClaudeChat, GlobalModel: gm}
	built, err := BuildCandidates(req)
	require.NoError(t, err)

	ordered := scheduler.Order(context.Background(), req, built)
	require.Len(t, ordered, 2)
	require.Equal(t, []int64{11}, usableIds(ordered))
	require.True(t, ordered[1].Skipped)
	require.Contains(t, ordered[1].SkipReason, pool.ReasonRateLimited)
}

func TestOrderGlobalKeyFirst(t *testing.T) {
	newTestDB(t)
	seedGlobalModel(t)
	hi, lo := 9, 1
	seedProvider(t, &model.Provider{
		Id: 1, Name: "a", Priority: 5, Active: true,
		Endpoints: []model.Endpoint{{Id: 1, Dialect: "claude:chat", BaseURL: "https://a.example", Active: true}},
		Keys:      []model.ProviderKey{{Id: 10, Active: true, GlobalPriority: &lo}},
	})
	seedProvider(t, &model.Provider{
		Id: 2, Name: "b", Priority: 4, Active: true,
		Endpoints: []model.Endpoint{{Id: 2, Dialect: "claude:chat", BaseURL: "https://b.example", Active: true}},
		Keys: []model.ProviderKey{
			{Id: 20, Active: true, GlobalPriority: &hi},
			{Id: 21, Active: true},
		},
	})
	seedProviderModel(t, 1, true)
	seedProviderModel(t, 2, true)

	pools, _ := newTestPools(t)
	scheduler := NewScheduler(pools, config.SchedulerSettings{Mode: "global_key_first"})

	gm, err := model.GetGlobalModelByName("test-model")
	require.NoError(t, err)
	req := &Request{Dialect: apiformat.ClaudeChat, GlobalModel: gm}
	built, err := BuildCandidates(req)
	require.NoError(t, err)

	ordered := scheduler.Order(context.Background(), req, built)
	// Highest global priority first, null priority last.
	require.Equal(t, []int64{20, 10, 21}, usableIds(ordered))
}

func TestOrderLastResortPromotesRateLimitedKey(t *testing.T) {
	newTestDB(t)
	seedGlobalModel(t)
	seedProvider(t, &model.Provider{
		Id: 1, Name: "only", Priority: 5, Active: true,
		Endpoints: []model.Endpoint{{Id: 1, Dialect: "claude:chat", BaseURL: "https://a.example", Active: true}},
		Keys:      []model.ProviderKey{{Id: 10, Active: true}},
	})
	seedProviderModel(t, 1, true)

	pools, _ := newTestPools(t)
	manager, err := pools.Manager(1, "")
	require.NoError(t, err)
	manager.OnRequestError(context.Background(), 10, pool.UpstreamError{StatusCode: 429})

	gm, err := model.GetGlobalModelByName("test-model")
	require.NoError(t, err)
	req := &Request{Dialect: apiformat.ClaudeChat, GlobalModel: gm}
	built, err := BuildCandidates(req)
	require.NoError(t, err)

	strict := NewScheduler(pools, config.SchedulerSettings{Mode: "provider_first"})
	ordered := strict.Order(context.Background(), req, built)
	require.Empty(t, usableIds(ordered))

	lenient := NewScheduler(pools, config.SchedulerSettings{
		Mode:                  "provider_first",
		LastResortRateLimited: true,
	})
	built, err = BuildCandidates(req)
	require.NoError(t, err)
	ordered = lenient.Order(context.Background(), req, built)
	require.Equal(t, []int64{10}, usableIds(ordered))
}

func TestOrderCacheAffinityFrontsRecentKey(t *testing.T) {
	newTestDB(t)
	seedGlobalModel(t)
	seedProvider(t, &model.Provider{
		Id: 1, Name: "anthropic", Priority: 5, Active: true,
		Endpoints: []model.Endpoint{{Id: 1, Dialect: "claude:chat", BaseURL: "https://a.example", Active: true}},
		Keys: []model.ProviderKey{
			{Id: 10, Active: true},
			{Id: 11, Active: true},
			{Id: 12, Active: true},
		},
	})
	seedProviderModel(t, 1, true)

	pools, store := newTestPools(t)
	manager, err := pools.Manager(1, "")
	require.NoError(t, err)

	ctx := context.Background()
	// Key 12 served this prefix recently; make the LRU order deterministic
	// so the affinity hint is the only reordering force under test.
	now := float64(time.Now().Unix())
	require.True(t, store.ZAdd(ctx, "ap:1:lru", now-300, "10"))
	require.True(t, store.ZAdd(ctx, "ap:1:lru", now-200, "11"))
	require.True(t, store.ZAdd(ctx, "ap:1:lru", now-100, "12"))
	manager.RecordAffinity(ctx, "prefix-fp", 12)

	scheduler := NewScheduler(pools, config.SchedulerSettings{
		Mode:                 "provider_first",
		CacheAffinityEnabled: true,
	})

	gm, err := model.GetGlobalModelByName("test-model")
	require.NoError(t, err)
	req := &Request{
		Dialect:           apiformat.ClaudeChat,
		GlobalModel:       gm,
		PrefixFingerprint: "prefix-fp",
	}
	built, err := BuildCandidates(req)
	require.NoError(t, err)

	ordered := scheduler.Order(ctx, req, built)
	require.Equal(t, []int64{12, 10, 11}, usableIds(ordered))
}
