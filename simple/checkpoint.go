package simple

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const checkpointVersion = 1

// checkpointFormat is the on-disk layout of a saved model.
type checkpointFormat struct {
	Version   int
	CreatedAt int64 // unix timestamp
	Config    Config
	Weights   [][]float64
	Biases    [][]float64
}

// Save writes the model to path using encoding/gob. It performs an atomic
// write (create temp file then rename).
func (m *Model) Save(path string) error {
	if path == "" {
		return errors.New("simple: empty checkpoint path")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "mkdir %s", dir)
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "create temp checkpoint")
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		_ = os.Remove(tmpName)
	}()

	ck := checkpointFormat{
		Version:   checkpointVersion,
		CreatedAt: time.Now().Unix(),
		Config:    m.Config,
	}
	for l := range m.weights {
		ck.Weights = append(ck.Weights, m.weights[l].Value)
		ck.Biases = append(ck.Biases, m.biases[l].Value)
	}
	if err := gob.NewEncoder(tmp).Encode(&ck); err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		klog.Warningf("sync checkpoint %s: %v", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp checkpoint")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename checkpoint")
	}
	return nil
}

// Load reads a model written by Save.
func Load(path string) (*Model, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open checkpoint %s", path)
	}
	defer fh.Close()
	var ck checkpointFormat
	if err := gob.NewDecoder(fh).Decode(&ck); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	if ck.Version != checkpointVersion {
		return nil, errors.Errorf("simple: checkpoint version %d, expected %d", ck.Version, checkpointVersion)
	}
	m, err := NewModel(ck.Config)
	if err != nil {
		return nil, err
	}
	if len(ck.Weights) != len(m.weights) || len(ck.Biases) != len(m.biases) {
		return nil, errors.Errorf("simple: checkpoint has %d layers, config implies %d", len(ck.Weights), len(m.weights))
	}
	for l := range m.weights {
		if len(ck.Weights[l]) != len(m.weights[l].Value) || len(ck.Biases[l]) != len(m.biases[l].Value) {
			return nil, errors.Errorf("simple: layer %d shape mismatch", l)
		}
		copy(m.weights[l].Value, ck.Weights[l])
		copy(m.biases[l].Value, ck.Biases[l])
	}
	return m, nil
}
