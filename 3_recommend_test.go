package digiscore

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	text  string
	err   error
	panic any
	calls int
}

func (g *fakeGenerator) Generate(ctx context.Context, city CityRecord) (string, error) {
	g.calls++
	if g.panic != nil {
		panic(g.panic)
	}
	return g.text, g.err
}

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, city CityRecord) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestBasicRecommendation(t *testing.T) {
	tests := []struct {
		name string
		city CityRecord
		want string
	}{
		{
			name: "performing well",
			city: testRecord("Pune", yesFlags(6)),
			want: "Pune is performing well in digital services (Score: 6/8). " +
				"Priority implementations: Ticket Purchases, Document Disclosure.",
		},
		{
			name: "making progress",
			city: testRecord("Surat", yesFlags(3)),
			want: "Surat is making progress in digital services (Score: 3/8). " +
				"Priority implementations: Certificate/License Requests, Tender Displays, Grievance Management.",
		},
		{
			name: "needing improvement",
			city: testRecord("Ranchi", yesFlags(0)),
			want: "Ranchi is needing significant improvement in digital services (Score: 0/8). " +
				"Priority implementations: Online Tax Payments, Traffic Violation Payments, Service Connection Requests.",
		},
		{
			name: "all implemented",
			city: testRecord("Indore", yesFlags(8)),
			want: "Indore has all digital services implemented (Score: 8/8). " +
				"Consider enhancing user experience and accessibility of existing services.",
		},
		{
			name: "blank name",
			city: testRecord("  ", yesFlags(8)),
			want: "The city has all digital services implemented (Score: 8/8). " +
				"Consider enhancing user experience and accessibility of existing services.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BasicRecommendation(tt.city))
		})
	}
}

func TestMissingServicesTreatsMissingAsNotAvailable(t *testing.T) {
	flags := yesFlags(8)
	flags[2] = ""
	flags[4] = "NaN"
	city := testRecord("Pune", flags)

	missing := MissingServices(city, 0)
	require.Len(t, missing, 2)
	assert.Equal(t, "service_connections", missing[0].Key)
	assert.Equal(t, "tenders", missing[1].Key)
	assert.Len(t, MissingServices(testRecord("Ranchi", yesFlags(0)), 3), 3)
}

func TestStatusTier(t *testing.T) {
	assert.Equal(t, "needing significant improvement", StatusTier(2))
	assert.Equal(t, "making progress", StatusTier(3))
	assert.Equal(t, "making progress", StatusTier(5))
	assert.Equal(t, "performing well", StatusTier(6))
	assert.Equal(t, "performing well", StatusTier(8))
}

func TestRecommendWithoutGenerator(t *testing.T) {
	city := testRecord("Pune", yesFlags(6))
	r := NewRecommender(nil, time.Second)

	assert.False(t, r.AIAvailable())
	rec := r.Recommend(context.Background(), city)
	assert.Equal(t, SourceFallback, rec.Source)
	assert.Equal(t, BasicRecommendation(city), rec.Text)
}

func TestRecommendGenerated(t *testing.T) {
	gen := &fakeGenerator{text: "## Plan\n- launch online tax payments"}
	r := NewRecommender(gen, time.Second)

	assert.True(t, r.AIAvailable())
	rec := r.Recommend(context.Background(), testRecord("Pune", yesFlags(6)))
	assert.Equal(t, SourceGenerated, rec.Source)
	assert.Equal(t, gen.text, rec.Text)
	assert.Equal(t, "ai", rec.Source.String())
}

func TestRecommendFallsBackOnError(t *testing.T) {
	city := testRecord("Surat", yesFlags(2))
	r := NewRecommender(&fakeGenerator{err: errors.New("rate limited")}, time.Second)

	rec := r.Recommend(context.Background(), city)
	assert.Equal(t, SourceFallback, rec.Source)
	assert.Equal(t, BasicRecommendation(city), rec.Text)
	assert.Equal(t, "rule-based", rec.Source.String())
}

func TestRecommendFallsBackOnTimeout(t *testing.T) {
	city := testRecord("Surat", yesFlags(2))
	r := NewRecommender(blockingGenerator{}, 20*time.Millisecond)

	rec := r.Recommend(context.Background(), city)
	assert.Equal(t, SourceFallback, rec.Source)
	assert.Equal(t, BasicRecommendation(city), rec.Text)
}

func TestRecommendRecoversPanic(t *testing.T) {
	r := NewRecommender(&fakeGenerator{panic: "boom"}, time.Second)

	rec := r.Recommend(context.Background(), testRecord("Pune", yesFlags(1)))
	assert.Equal(t, SourceFallback, rec.Source)
	assert.Equal(t, "Recommendation: Focus on improving digital services infrastructure. (System Error: boom)", rec.Text)
}

func runRecommendCmd(t *testing.T, data DataConfig, args ...string) (string, error) {
	t.Helper()
	resetAI(t)

	saved := Config
	Config = Settings{Data: data, OpenAI: OpenAIConfig{Model: "gpt-3.5-turbo"}}
	t.Cleanup(func() { Config = saved })

	if args == nil {
		args = []string{}
	}
	var out bytes.Buffer
	RecommendCmd.SetOut(&out)
	RecommendCmd.SetErr(&out)
	RecommendCmd.SetArgs(args)
	t.Cleanup(func() {
		RecommendCmd.SetOut(nil)
		RecommendCmd.SetErr(nil)
	})

	err := RecommendCmd.Execute()
	return out.String(), err
}

func TestRecommendCmd(t *testing.T) {
	data := DataConfig{ClusteredPath: writeClusteredCSV(t)}

	t.Run("first city by default", func(t *testing.T) {
		out, err := runRecommendCmd(t, data)
		require.NoError(t, err)
		assert.Contains(t, out, "OpenAI available: false")
		assert.Contains(t, out, "LaggingA (Zone) - score 0/8")
		assert.Contains(t, out, "rule-based")
		assert.Contains(t, out, "LaggingA is needing significant improvement in digital services (Score: 0/8).")
	})

	t.Run("lookup ignores case and whitespace", func(t *testing.T) {
		out, err := runRecommendCmd(t, data, " pune ")
		require.NoError(t, err)
		assert.Contains(t, out, "Pune (West) - score 6/8")
		assert.Contains(t, out, "Priority implementations: Ticket Purchases, Document Disclosure.")
	})

	t.Run("unknown city", func(t *testing.T) {
		_, err := runRecommendCmd(t, data, "Atlantis")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrCityNotFound))
	})
}

func TestLoadCitiesFallsBackToModel(t *testing.T) {
	dir := t.TempDir()
	raw := writeRawCSV(t, append(groupedCities(), testCity{name: "Pune", zone: "West", flags: yesFlags(6)}))
	data := DataConfig{
		RawPath:       raw,
		ProcessedPath: filepath.Join(dir, "processed_data.csv"),
		ClusteredPath: filepath.Join(dir, "clustered_data.csv"),
		ModelPath:     filepath.Join(dir, "model.json"),
	}
	require.NoError(t, processData(data.RawPath, data.ProcessedPath))
	require.NoError(t, clusterCities(data.ProcessedPath, data.ClusteredPath, data.ModelPath, testClusterConfig))

	clustered, err := loadCities(data)
	require.NoError(t, err)

	data.ClusteredPath = filepath.Join(dir, "missing.csv")
	predicted, err := loadCities(data)
	require.NoError(t, err)
	require.Len(t, predicted, len(clustered))
	for i := range clustered {
		assert.Equal(t, clustered[i].ClusterID, predicted[i].ClusterID, "city %s", clustered[i].Name)
		assert.Equal(t, clustered[i].ClusterLabel, predicted[i].ClusterLabel)
	}

	data.ModelPath = filepath.Join(dir, "missing.json")
	unlabelled, err := loadCities(data)
	require.NoError(t, err)
	assert.Equal(t, -1, unlabelled[0].ClusterID)

	data.ProcessedPath = filepath.Join(dir, "missing_processed.csv")
	_, err = loadCities(data)
	assert.True(t, eris.Is(err, ErrMissingInput))
}
