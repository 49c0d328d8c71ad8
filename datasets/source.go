package datasets

import (
	"math"
	"math/rand"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Noofbiz/floodSeg/augment"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// File naming convention of the training data.
const (
	ImageDir    = "train_true_color"
	MaskDir     = "train_mask"
	ImagePrefix = "train_true_color_"
	MaskPrefix  = "train_mask_"
)

// ErrIdentifierMismatch is returned when an image and the mask paired with it
// carry different identifiers.
var ErrIdentifierMismatch = errors.New("datasets: image and mask identifiers differ")

// Record is one row of the sample table. MaskPath is empty for test data.
type Record struct {
	ImagePath string
	MaskPath  string
}

// SourceConfig describes where the training data lives and how it is split.
type SourceConfig struct {
	// Root holds the train_true_color/ and train_mask/ directories.
	Root string

	// ImageSize is the side of the square tensors produced by the transforms.
	ImageSize int

	// ValidFraction is the share of records held out for validation (0.2).
	ValidFraction float64

	// SplitSeed seeds the random split (42).
	SplitSeed int64

	// Folds and FoldIndex select a K-fold split instead of the random one
	// when Folds > 1 and FoldIndex >= 0.
	Folds     int
	FoldIndex int

	// Reader defaults to TIFFReader.
	Reader RasterReader
}

var trailingNumber = regexp.MustCompile(`(\d+)\D*$`)

// Identifier extracts the trailing number of a file name, -1 when it has
// none.
func Identifier(path string) int {
	m := trailingNumber.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// SortByIdentifier sorts paths by Identifier, keeping the glob order for ties.
func SortByIdentifier(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return Identifier(paths[i]) < Identifier(paths[j])
	})
}

func stem(path, prefix string) string {
	base := filepath.Base(path)
	return strings.TrimPrefix(strings.TrimSuffix(base, filepath.Ext(base)), prefix)
}

// PairRecords sorts both lists by identifier, zips them and checks every pair.
// Any mismatch is an ErrIdentifierMismatch.
func PairRecords(images, masks []string) ([]Record, error) {
	if len(images) != len(masks) {
		return nil, errors.Wrapf(ErrIdentifierMismatch, "%d images but %d masks", len(images), len(masks))
	}
	images = append([]string(nil), images...)
	masks = append([]string(nil), masks...)
	SortByIdentifier(images)
	SortByIdentifier(masks)

	records := make([]Record, len(images))
	for i := range images {
		img, mask := stem(images[i], ImagePrefix), stem(masks[i], MaskPrefix)
		if img != mask {
			return nil, errors.Wrapf(ErrIdentifierMismatch, "%s and %s", img, mask)
		}
		records[i] = Record{ImagePath: images[i], MaskPath: masks[i]}
	}
	return records, nil
}

// DiscoverRecords globs the image and mask directories under root and pairs
// them.
func DiscoverRecords(root string) ([]Record, error) {
	images, err := filepath.Glob(filepath.Join(root, ImageDir, ImagePrefix+"*.tif"))
	if err != nil {
		return nil, errors.Wrap(err, "glob images")
	}
	masks, err := filepath.Glob(filepath.Join(root, MaskDir, MaskPrefix+"*.tif"))
	if err != nil {
		return nil, errors.Wrap(err, "glob masks")
	}
	if len(images) == 0 {
		return nil, errors.Errorf("datasets: no images found under %s", filepath.Join(root, ImageDir))
	}
	return PairRecords(images, masks)
}

func pick(records []Record, idx []int) []Record {
	out := make([]Record, len(idx))
	for i, j := range idx {
		out[i] = records[j]
	}
	return out
}

// SplitRecords holds out ceil(frac*n) records, chosen by a permutation seeded
// with seed.
func SplitRecords(records []Record, frac float64, seed int64) (train, valid []Record) {
	n := len(records)
	nValid := int(math.Ceil(frac * float64(n)))
	nValid = min(max(nValid, 0), n)
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return pick(records, perm[nValid:]), pick(records, perm[:nValid])
}

// KFoldRecords shuffles the records with seed, cuts them into k folds (the
// first n%k folds one record larger) and holds out fold index.
func KFoldRecords(records []Record, k, index int, seed int64) (train, valid []Record, err error) {
	n := len(records)
	if k < 2 || k > n {
		return nil, nil, errors.Errorf("datasets: cannot cut %d records into %d folds", n, k)
	}
	if index < 0 || index >= k {
		return nil, nil, errors.Errorf("datasets: fold %d outside [0, %d)", index, k)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		if f == index {
			rest := append(append([]int(nil), perm[:start]...), perm[start+size:]...)
			return pick(records, rest), pick(records, perm[start:start+size]), nil
		}
		start += size
	}
	return nil, nil, errors.New("datasets: fold not found")
}

// PrepareDatasets discovers, validates and splits the training data and
// wraps both parts in datasets bound to the train and valid phases.
func PrepareDatasets(cfg SourceConfig) (train, valid *SegmentationDataset, err error) {
	records, err := DiscoverRecords(cfg.Root)
	if err != nil {
		return nil, nil, err
	}
	klog.Infof("dataset rows=%d shape=(%d, 2)", len(records), len(records))
	klog.V(1).Infof("first record: %+v", records[0])

	var trainRecs, validRecs []Record
	if cfg.Folds > 1 && cfg.FoldIndex >= 0 {
		trainRecs, validRecs, err = KFoldRecords(records, cfg.Folds, cfg.FoldIndex, cfg.SplitSeed)
		if err != nil {
			return nil, nil, err
		}
	} else {
		frac := cfg.ValidFraction
		if frac <= 0 {
			frac = 0.2
		}
		trainRecs, validRecs = SplitRecords(records, frac, cfg.SplitSeed)
	}
	if len(trainRecs) == 0 {
		return nil, nil, errors.Errorf("datasets: split of %d records leaves no training data", len(records))
	}

	reader := cfg.Reader
	if reader == nil {
		reader = TIFFReader{}
	}
	train, err = NewSegmentationDataset(trainRecs, augment.Train, augment.NewTransform(cfg.ImageSize), reader)
	if err != nil {
		return nil, nil, err
	}
	valid, err = NewSegmentationDataset(validRecs, augment.Valid, augment.NewTransform(cfg.ImageSize), reader)
	if err != nil {
		return nil, nil, err
	}
	klog.Infof("training set size: %d", train.Len())
	klog.Infof("validation set size: %d", valid.Len())
	return train, valid, nil
}

// NewTestDataset builds an image-only dataset from a glob pattern.
func NewTestDataset(pattern string, size int, reader RasterReader) (*SegmentationDataset, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "glob %s", pattern)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("datasets: no rasters match %s", pattern)
	}
	SortByIdentifier(paths)
	records := make([]Record, len(paths))
	for i, p := range paths {
		records[i] = Record{ImagePath: p}
	}
	if reader == nil {
		reader = TIFFReader{}
	}
	return NewSegmentationDataset(records, augment.Test, augment.NewTransform(size), reader)
}
