package digiscore

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ClusterLabels maps a cluster id to its display label. The mapping is by
// index only; k-means does not order clusters by digital maturity.
var ClusterLabels = []string{
	"Digitally Lagging",
	"Emerging",
	"Digitally Advanced",
}

// ClusterLabel returns the display label for id, or "" if there is none.
func ClusterLabel(id int) string {
	if id < 0 || id >= len(ClusterLabels) {
		return ""
	}
	return ClusterLabels[id]
}

// ClusterModel is a fitted k-means partitioning. It is written once by
// cluster-cities and treated as read-only afterwards.
type ClusterModel struct {
	K          int         `json:"k"`
	Seed       int64       `json:"seed"`
	Features   []string    `json:"features"`
	Centroids  [][]float64 `json:"centroids"`
	Sizes      []int       `json:"sizes"`
	Inertia    float64     `json:"inertia"`
	Iterations int         `json:"iterations"`
}

// Predict returns the id of the centroid nearest to vector.
func (m *ClusterModel) Predict(vector []float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range m.Centroids {
		if len(c) != len(vector) {
			continue
		}
		if d := floats.Distance(vector, c, 2); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// ClusterProfile summarises one cluster for display.
type ClusterProfile struct {
	ID           int
	Label        string
	Size         int
	MeanServices float64 // expected number of available services in the cluster
}

// LabelRecords assigns a cluster to every record that has none by predicting
// from its row in table. records must be table.Records().
func (m *ClusterModel) LabelRecords(table *Table, records []CityRecord) {
	for i := range records {
		if records[i].ClusterID >= 0 {
			continue
		}
		id := m.Predict(FeatureVector(table, i, m.Features))
		records[i].ClusterID = id
		records[i].ClusterLabel = ClusterLabel(id)
	}
}

// Profiles returns one summary per centroid.
func (m *ClusterModel) Profiles() []ClusterProfile {
	profiles := make([]ClusterProfile, len(m.Centroids))
	for i, c := range m.Centroids {
		profiles[i] = ClusterProfile{
			ID:           i,
			Label:        ClusterLabel(i),
			MeanServices: floats.Sum(c),
		}
		if i < len(m.Sizes) {
			profiles[i].Size = m.Sizes[i]
		}
	}
	return profiles
}

// ClusterCitiesCmd: Reads the processed table, saves the clustered table and model
var ClusterCitiesCmd = &cobra.Command{
	Use:   "cluster-cities",
	Short: "Group cities into digital maturity clusters",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := clusterCities(Config.Data.ProcessedPath, Config.Data.ClusteredPath, Config.Data.ModelPath, Config.Cluster); err != nil {
			return err
		}
		zap.L().Info("clustering completed",
			zap.String("table", Config.Data.ClusteredPath),
			zap.String("model", Config.Data.ModelPath))
		return nil
	},
}

func clusterCities(inputPath, outputPath, modelPath string, cfg ClusterConfig) error {
	table, err := ReadTable(inputPath)
	if err != nil {
		if eris.Is(err, ErrMissingInput) {
			return eris.Wrapf(err, "processed data not found at %s, run process-data first", inputPath)
		}
		return err
	}

	model, err := ClusterCities(table, cfg)
	if err != nil {
		return err
	}

	if err := table.WriteCSV(outputPath); err != nil {
		return eris.Wrap(err, "cluster: write clustered table")
	}
	if err := SaveClusterModel(modelPath, model); err != nil {
		return err
	}
	return nil
}

// ClusterCities fits k-means over the service columns of table and sets the
// Cluster and Cluster_Label columns on every row.
func ClusterCities(table *Table, cfg ClusterConfig) (*ClusterModel, error) {
	if cfg.K != len(ClusterLabels) {
		return nil, eris.Errorf("cluster: k must be %d to match the cluster labels, got %d", len(ClusterLabels), cfg.K)
	}

	features := ServiceFeatureColumns(table)
	if len(features) == 0 {
		return nil, eris.New("cluster: no service columns with data")
	}

	data := FeatureMatrix(table, features)
	result, err := KMeans(data, cfg.K, cfg.Seed, cfg.MaxIter)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(table.Rows))
	labels := make([]string, len(table.Rows))
	for i, c := range result.Assignments {
		ids[i] = strconv.Itoa(c)
		labels[i] = ClusterLabel(c)
	}
	table.SetColumn(ClusterColumn, ids)
	table.SetColumn(ClusterLabelColumn, labels)

	k, d := result.Centroids.Dims()
	model := &ClusterModel{
		K:          k,
		Seed:       cfg.Seed,
		Features:   features,
		Centroids:  make([][]float64, k),
		Sizes:      make([]int, k),
		Inertia:    result.Inertia,
		Iterations: result.Iterations,
	}
	for i := range k {
		model.Centroids[i] = make([]float64, d)
		copy(model.Centroids[i], result.Centroids.RawRowView(i))
	}
	for _, c := range result.Assignments {
		model.Sizes[c]++
	}

	zap.L().Debug("k-means fitted",
		zap.Int("k", k),
		zap.Int("iterations", result.Iterations),
		zap.Float64("inertia", result.Inertia),
		zap.Ints("sizes", model.Sizes))
	return model, nil
}

// ServiceFeatureColumns returns the "[Yes / No]" columns that hold at least
// one non-missing value, in header order.
func ServiceFeatureColumns(table *Table) []string {
	var cols []string
	for j, h := range table.Header {
		if !strings.Contains(h, serviceColumnMarker) {
			continue
		}
		for _, row := range table.Rows {
			if j < len(row) && !IsMissing(row[j]) {
				cols = append(cols, h)
				break
			}
		}
	}
	return cols
}

// FeatureMatrix encodes each row as a 0/1 vector over columns.
func FeatureMatrix(table *Table, columns []string) *mat.Dense {
	if len(table.Rows) == 0 || len(columns) == 0 {
		return &mat.Dense{}
	}
	data := mat.NewDense(len(table.Rows), len(columns), nil)
	for i := range table.Rows {
		data.SetRow(i, FeatureVector(table, i, columns))
	}
	return data
}

// FeatureVector encodes row i as a 0/1 vector over columns.
func FeatureVector(table *Table, i int, columns []string) []float64 {
	vec := make([]float64, len(columns))
	for j, col := range columns {
		if ParseFlag(table.Get(i, col)).Available() {
			vec[j] = 1
		}
	}
	return vec
}

// KMeansResult is the outcome of a k-means fit.
type KMeansResult struct {
	Centroids   *mat.Dense
	Assignments []int
	Inertia     float64
	Iterations  int
}

// KMeans partitions the rows of data into k clusters with Lloyd's algorithm
// and k-means++ seeding. The same data and seed always produce the same
// result.
func KMeans(data *mat.Dense, k int, seed int64, maxIter int) (*KMeansResult, error) {
	if data.IsEmpty() {
		return nil, eris.New("kmeans: no samples")
	}
	n, _ := data.Dims()
	if k <= 0 {
		return nil, eris.Errorf("kmeans: invalid cluster count %d", k)
	}
	if n < k {
		return nil, eris.Errorf("kmeans: %d samples is fewer than %d clusters", n, k)
	}
	if maxIter <= 0 {
		maxIter = 300
	}

	rng := rand.New(rand.NewSource(seed))
	centroids := initializeCentroidsKMeansPlusPlus(data, k, rng)
	tolerance := 1e-4 * meanVariance(data)

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}

	iterations := 0
	for iterations < maxIter {
		iterations++

		newAssignments := assignPointsToClusters(data, centroids)
		changed := false
		for i := range assignments {
			if assignments[i] != newAssignments[i] {
				changed = true
				break
			}
		}
		assignments = newAssignments
		if !changed {
			break
		}

		newCentroids := updateCentroids(data, assignments, centroids)
		shift := calculateCentroidShift(centroids, newCentroids)
		centroids = newCentroids
		if shift <= tolerance {
			assignments = assignPointsToClusters(data, centroids)
			break
		}
	}

	return &KMeansResult{
		Centroids:   centroids,
		Assignments: assignments,
		Inertia:     inertia(data, centroids, assignments),
		Iterations:  iterations,
	}, nil
}

// initializeCentroidsKMeansPlusPlus picks k initial centroids, each new one
// sampled with probability proportional to its squared distance from the
// nearest centroid chosen so far.
func initializeCentroidsKMeansPlusPlus(data *mat.Dense, k int, rng *rand.Rand) *mat.Dense {
	n, d := data.Dims()
	centroids := mat.NewDense(k, d, nil)

	centroids.SetRow(0, data.RawRowView(rng.Intn(n)))

	distances := make([]float64, n)
	for i := 1; i < k; i++ {
		for j := range n {
			point := data.RawRowView(j)
			minDist := math.Inf(1)
			for c := range i {
				if dist := squaredDistance(point, centroids.RawRowView(c)); dist < minDist {
					minDist = dist
				}
			}
			distances[j] = minDist
		}

		totalWeight := floats.Sum(distances)
		if totalWeight == 0 {
			// all points coincide with chosen centroids
			centroids.SetRow(i, data.RawRowView(rng.Intn(n)))
			continue
		}

		target := rng.Float64() * totalWeight
		cumWeight := 0.0
		chosen := n - 1
		for j, dist := range distances {
			cumWeight += dist
			if dist > 0 && cumWeight >= target {
				chosen = j
				break
			}
		}
		centroids.SetRow(i, data.RawRowView(chosen))
	}

	return centroids
}

// assignPointsToClusters assigns each row to its nearest centroid. Ties go
// to the lower cluster id.
func assignPointsToClusters(data, centroids *mat.Dense) []int {
	n, _ := data.Dims()
	k, _ := centroids.Dims()
	assignments := make([]int, n)

	for i := range n {
		point := data.RawRowView(i)
		minDist := math.Inf(1)
		best := 0
		for j := range k {
			if dist := squaredDistance(point, centroids.RawRowView(j)); dist < minDist {
				minDist = dist
				best = j
			}
		}
		assignments[i] = best
	}
	return assignments
}

// updateCentroids recomputes each centroid as the mean of its members. A
// cluster left empty takes the point farthest from its current centroid.
func updateCentroids(data *mat.Dense, assignments []int, old *mat.Dense) *mat.Dense {
	n, d := data.Dims()
	k, _ := old.Dims()
	centroids := mat.NewDense(k, d, nil)
	counts := make([]int, k)

	for i := range n {
		c := assignments[i]
		floats.Add(centroids.RawRowView(c), data.RawRowView(i))
		counts[c]++
	}

	taken := make(map[int]bool)
	for c := range k {
		if counts[c] > 0 {
			floats.Scale(1/float64(counts[c]), centroids.RawRowView(c))
			continue
		}

		far, farDist := -1, -1.0
		for i := range n {
			if taken[i] {
				continue
			}
			if dist := squaredDistance(data.RawRowView(i), old.RawRowView(assignments[i])); dist > farDist {
				far, farDist = i, dist
			}
		}
		if far >= 0 {
			taken[far] = true
			centroids.SetRow(c, data.RawRowView(far))
		}
	}
	return centroids
}

// calculateCentroidShift returns the total squared movement of all centroids.
func calculateCentroidShift(oldCentroids, newCentroids *mat.Dense) float64 {
	var diff mat.Dense
	diff.Sub(oldCentroids, newCentroids)
	norm := mat.Norm(&diff, 2)
	return norm * norm
}

func inertia(data, centroids *mat.Dense, assignments []int) float64 {
	total := 0.0
	for i, c := range assignments {
		total += squaredDistance(data.RawRowView(i), centroids.RawRowView(c))
	}
	return total
}

// meanVariance is the average per-feature variance, used to scale the
// convergence tolerance to the data.
func meanVariance(data *mat.Dense) float64 {
	n, d := data.Dims()
	if n == 0 || d == 0 {
		return 0
	}
	total := 0.0
	col := make([]float64, n)
	for j := range d {
		mat.Col(col, j, data)
		mean := floats.Sum(col) / float64(n)
		for _, v := range col {
			total += (v - mean) * (v - mean)
		}
	}
	return total / float64(n*d)
}

func squaredDistance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

// SaveClusterModel writes the fitted model as indented JSON.
func SaveClusterModel(path string, model *ClusterModel) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return eris.Wrap(err, "cluster: create model directory")
	}
	jsonData, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return eris.Wrap(err, "cluster: marshal model")
	}
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return eris.Wrap(err, "cluster: write model")
	}
	return nil
}

// LoadClusterModel reads a model written by SaveClusterModel.
func LoadClusterModel(path string) (*ClusterModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrMissingInput, "cluster model: %s", path)
		}
		return nil, eris.Wrap(err, "cluster: read model")
	}
	var model ClusterModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, eris.Wrap(err, "cluster: parse model")
	}
	return &model, nil
}
