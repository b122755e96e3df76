package digiscore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Source records where a recommendation came from.
type Source int

const (
	SourceFallback Source = iota
	SourceGenerated
)

func (s Source) String() string {
	if s == SourceGenerated {
		return "ai"
	}
	return "rule-based"
}

// Recommendation is the guidance shown on a city's policy brief.
type Recommendation struct {
	Text   string
	Source Source
}

// Generator produces free-text recommendations for a city.
type Generator interface {
	Generate(ctx context.Context, city CityRecord) (string, error)
}

// Recommender prefers a Generator and falls back to rule-based text.
type Recommender struct {
	generator Generator
	timeout   time.Duration
}

// NewRecommender returns a Recommender. A nil generator disables the AI path.
func NewRecommender(generator Generator, timeout time.Duration) *Recommender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Recommender{generator: generator, timeout: timeout}
}

// NewRecommenderFromConfig wires the process-wide AI client into a Recommender.
func NewRecommenderFromConfig(ctx context.Context, cfg OpenAIConfig) *Recommender {
	var generator Generator
	if client := InitAI(ctx, cfg); client != nil {
		generator = client
	}
	return NewRecommender(generator, cfg.Timeout)
}

// AIAvailable reports whether the AI path is enabled.
func (r *Recommender) AIAvailable() bool {
	return r.generator != nil
}

// Recommend never fails: generator errors fall back to BasicRecommendation and
// a panic anywhere below is turned into an apology text.
func (r *Recommender) Recommend(ctx context.Context, city CityRecord) (rec Recommendation) {
	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("recommendation failed", zap.String("city", city.Name), zap.Any("panic", p))
			rec = Recommendation{
				Text:   fmt.Sprintf("Recommendation: Focus on improving digital services infrastructure. (System Error: %v)", p),
				Source: SourceFallback,
			}
		}
	}()

	if r.generator == nil {
		zap.L().Debug("OpenAI not available, using basic recommendations", zap.String("city", city.Name))
		return Recommendation{Text: BasicRecommendation(city), Source: SourceFallback}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	text, err := r.generator.Generate(ctx, city)
	if err != nil {
		zap.L().Warn("AI generation failed, using basic recommendations",
			zap.String("city", city.Name), zap.Error(err))
		return Recommendation{Text: BasicRecommendation(city), Source: SourceFallback}
	}
	return Recommendation{Text: text, Source: SourceGenerated}
}

// StatusTier describes overall progress for a score.
func StatusTier(score int) string {
	switch {
	case score >= 6:
		return "performing well"
	case score >= 3:
		return "making progress"
	default:
		return "needing significant improvement"
	}
}

// MissingServices returns up to limit services that are not available, in
// Services order. A limit <= 0 returns all of them.
func MissingServices(city CityRecord, limit int) []ServiceConfig {
	var missing []ServiceConfig
	for _, s := range city.ServiceFlags() {
		if s.Flag.Available() {
			continue
		}
		missing = append(missing, s.Service)
		if limit > 0 && len(missing) == limit {
			break
		}
	}
	return missing
}

// BasicRecommendation is the deterministic rule-based recommendation.
func BasicRecommendation(city CityRecord) string {
	name := city.Name
	if strings.TrimSpace(name) == "" {
		name = "The city"
	}

	missing := MissingServices(city, 3)
	if len(missing) == 0 {
		return fmt.Sprintf("%s has all digital services implemented (Score: %d/%d). "+
			"Consider enhancing user experience and accessibility of existing services.",
			name, city.Score, NumServices)
	}

	names := make([]string, len(missing))
	for i, s := range missing {
		names[i] = s.FriendlyName
	}
	return fmt.Sprintf("%s is %s in digital services (Score: %d/%d). Priority implementations: %s.",
		name, StatusTier(city.Score), city.Score, NumServices, strings.Join(names, ", "))
}

// RecommendCmd: Reads the clustered table, prints the recommendation for one city
var RecommendCmd = &cobra.Command{
	Use:   "recommend [city]",
	Short: "Print the policy recommendation for a city",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := loadCities(Config.Data)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return eris.New("recommend: table is empty")
		}

		city := records[0]
		if len(args) > 0 {
			found, ok := FindCity(records, args[0])
			if !ok {
				return eris.Wrapf(ErrCityNotFound, "recommend: %q", args[0])
			}
			city = found
		}

		recommender := NewRecommenderFromConfig(cmd.Context(), Config.OpenAI)
		zap.L().Info("generating recommendation",
			zap.String("city", city.Name),
			zap.Bool("openai_available", recommender.AIAvailable()))

		rec := recommender.Recommend(cmd.Context(), city)
		label := city.ClusterLabel
		if label == "" {
			label = "N/A"
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "OpenAI available: %t\n", recommender.AIAvailable())
		fmt.Fprintf(out, "%s (%s) - score %d/%d, cluster %s, %s\n\n%s\n",
			city.Name, city.Zone, city.Score, NumServices, label, rec.Source, rec.Text)
		return nil
	},
}

// loadCities reads the clustered table. Without one it falls back to the
// processed table and labels cities with the saved cluster model.
func loadCities(cfg DataConfig) ([]CityRecord, error) {
	table, err := ReadTable(cfg.ClusteredPath)
	if err == nil {
		return table.Records(), nil
	}
	if !eris.Is(err, ErrMissingInput) {
		return nil, eris.Wrap(err, "recommend: read clustered table")
	}

	table, err = ReadTable(cfg.ProcessedPath)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: read processed table")
	}
	records := table.Records()

	model, err := LoadClusterModel(cfg.ModelPath)
	if err != nil {
		zap.L().Warn("cluster model not loaded, cities stay unlabelled", zap.Error(err))
		return records, nil
	}
	model.LabelRecords(table, records)
	return records, nil
}
