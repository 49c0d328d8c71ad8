package datasets

import (
	"fmt"
	"math/rand"

	"github.com/Noofbiz/floodSeg/augment"
	"github.com/pkg/errors"
)

// SegmentationDataset reads image/mask pairs lazily and runs them through the
// pipeline of its phase.
type SegmentationDataset struct {
	records   []Record
	phase     augment.Phase
	transform *augment.Transform
	reader    RasterReader
}

// NewSegmentationDataset binds records to a phase. Train and Valid records
// must all have masks.
func NewSegmentationDataset(records []Record, phase augment.Phase, t *augment.Transform, reader RasterReader) (*SegmentationDataset, error) {
	if _, err := t.Pipeline(phase); err != nil {
		return nil, err
	}
	if phase != augment.Test {
		for _, r := range records {
			if r.MaskPath == "" {
				return nil, errors.Errorf("datasets: %s record %s has no mask", phase, r.ImagePath)
			}
		}
	}
	if reader == nil {
		reader = TIFFReader{}
	}
	return &SegmentationDataset{records: records, phase: phase, transform: t, reader: reader}, nil
}

func (d *SegmentationDataset) Len() int             { return len(d.records) }
func (d *SegmentationDataset) Phase() augment.Phase { return d.phase }
func (d *SegmentationDataset) Size() int            { return d.transform.Size() }

// Records returns a copy of the sample table.
func (d *SegmentationDataset) Records() []Record {
	return append([]Record(nil), d.records...)
}

func (d *SegmentationDataset) Name() string {
	return fmt.Sprintf("SegmentationDataset(%s)", d.phase)
}

// Example reads record i, normalises the image and applies the phase
// pipeline. In the test phase only the image is read.
func (d *SegmentationDataset) Example(i int, rng *rand.Rand) (Sample, error) {
	if i < 0 || i >= len(d.records) {
		return Sample{}, errors.Errorf("datasets: index %d out of range [0, %d)", i, len(d.records))
	}
	rec := d.records[i]
	image, err := d.reader.ReadRaster(rec.ImagePath)
	if err != nil {
		return Sample{}, err
	}
	NormalizeImage(image)

	var mask *augment.Grid
	if d.phase != augment.Test {
		mask, err = d.reader.ReadRaster(rec.MaskPath)
		if err != nil {
			return Sample{}, err
		}
		if !image.SameSize(mask) {
			return Sample{}, errors.Wrapf(ErrDecode, "%s is %v but %s is %v", rec.ImagePath, image, rec.MaskPath, mask)
		}
	}
	res, err := d.transform.Apply(d.phase, rng, image, mask)
	if err != nil {
		return Sample{}, errors.Wrapf(err, "transform %s", rec.ImagePath)
	}
	return Sample{Image: res.Image, Mask: res.Mask}, nil
}
