package datasets

import (
	"math/rand"

	"github.com/Noofbiz/floodSeg/augment"
)

// This package turns the flood-mapping rasters on disk into batches that a
// training loop can consume.
//
// Like the rest of the pipeline it loads lazily: the sample table only keeps
// file paths and every raster is read when its example is requested.
//
// Layout and intended usage:
//
// PrepareDatasets
//   - Finds train_true_color_<id>.tif / train_mask_<id>.tif pairs under a root
//   - Checks that every image is paired with the mask of the same id
//   - Splits 80/20 (or by fold) and returns train/valid SegmentationDatasets
//
// SegmentationDataset
//   - Example(i, rng) reads, normalises and transforms one image (and mask)
//   - Images are clipped to [400, 2400] and divided by 2400
//   - Masks keep their raw values so the 255 no-data label survives
//
// Loader
//   - Groups examples into Batches with a pool of workers and bounded
//     prefetch, delivering them in order
//   - Batch.Tensors converts a batch into gomlx tensors; Yield/Reset follow
//     gomlx's train.Dataset conventions for sequential use

// Dataset is what the Loader needs from a dataset. Implementations must allow
// concurrent Example calls for different indices.
type Dataset interface {
	Len() int
	Phase() augment.Phase
	// Example reads example i. rng drives random augmentation and may be nil
	// for deterministic phases.
	Example(i int, rng *rand.Rand) (Sample, error)
}

// Sample is one transformed example. Mask is nil in the test phase.
type Sample struct {
	Image *augment.Grid
	Mask  *augment.Grid
}
