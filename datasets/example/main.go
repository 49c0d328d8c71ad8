package main

// Example command that splits a flood dataset into training and validation
// sets, pulls the first training batch through the sequential Yield API and
// converts it into gomlx tensors.
//
// Usage:
//   go run ./example -root ../data -size 256
//
// The root must contain train_true_color/ and train_mask/ with matching
// train_true_color_<id>.tif and train_mask_<id>.tif files.

import (
	"flag"
	"fmt"
	"log"

	"github.com/Noofbiz/floodSeg/datasets"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

func main() {
	root := flag.String("root", "../data", "dataset root")
	size := flag.Int("size", 512, "side of the transformed rasters")
	batchSize := flag.Int("batch", 4, "batch size")
	flag.Parse()

	trainDS, validDS, err := datasets.PrepareDatasets(datasets.SourceConfig{Root: *root, ImageSize: *size, ValidFraction: 0.2, SplitSeed: 42, FoldIndex: -1})
	if err != nil {
		log.Fatalf("failed to prepare datasets: %v", err)
	}
	fmt.Printf("%s: %d examples\n", trainDS.Name(), trainDS.Len())
	fmt.Printf("%s: %d examples\n", validDS.Name(), validDS.Len())

	loader := datasets.NewLoader(trainDS, datasets.LoaderConfig{BatchSize: *batchSize, Shuffle: true, Seed: 1})
	fmt.Printf("Loader %s: %d batches per epoch\n", loader.Name(), loader.NumBatches())

	spec, inputs, labels, err := loader.Yield()
	if err != nil {
		log.Fatalf("failed to load first batch: %v", err)
	}
	b := spec.(*datasets.Batch)
	fmt.Printf("First batch: examples %v\n", b.Indices)
	printTensor("  images", inputs[0])
	printTensor("  masks ", labels[0])

	// Water share among the labelled pixels.
	var water, valid int
	for _, v := range b.Masks {
		switch v {
		case 1:
			water++
			valid++
		case 0:
			valid++
		}
	}
	if valid > 0 {
		fmt.Printf("  water pixels: %d of %d labelled (%.1f%%)\n", water, valid, 100*float64(water)/float64(valid))
	}
}

func printTensor(name string, t *tensors.Tensor) {
	fmt.Printf("%s: %s\n", name, t.Shape())
}
