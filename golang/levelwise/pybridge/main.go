// SPDX-License-Identifier: Apache-2.0

package main

/*
#cgo CFLAGS: -I.
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"unsafe"

	"github.com/tarstars/levelwise_trees/golang/levelwise/ltree"
	"gonum.org/v1/gonum/mat"
)

var (
	handleMu   sync.Mutex
	nextHandle uint64 = 1
	models            = make(map[uint64]*ltree.Model)

	lastErrorMu sync.Mutex
	lastError   string

	logSilenceOnce sync.Once
)

func setLastError(err error) {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	if err != nil {
		lastError = err.Error()
	} else {
		lastError = ""
	}
}

func getLastError() string {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	return lastError
}

func storeModel(m *ltree.Model) uint64 {
	handleMu.Lock()
	defer handleMu.Unlock()
	handle := nextHandle
	models[handle] = m
	nextHandle++
	return handle
}

func fetchModel(handle uint64) (*ltree.Model, error) {
	handleMu.Lock()
	defer handleMu.Unlock()
	model, ok := models[handle]
	if !ok {
		return nil, errors.New("invalid model handle")
	}
	return model, nil
}

//export FreeModel
func FreeModel(handle C.ulonglong) {
	handleMu.Lock()
	defer handleMu.Unlock()
	delete(models, uint64(handle))
}

func copyFloatSlice(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	src := unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length)
	dst := make([]float64, length)
	copy(dst, src)
	return dst, nil
}

func sliceFromPtr(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length), nil
}

//buildDense copies a row-major C matrix, a matrix without columns is absent.
func buildDense(ptr *C.double, rows, cols C.int) (*mat.Dense, error) {
	r := int(rows)
	c := int(cols)
	if r < 0 || c < 0 {
		return nil, errors.New("invalid matrix dimensions")
	}
	if r == 0 || c == 0 {
		return nil, nil
	}
	data, err := copyFloatSlice(ptr, r*c)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(r, c, data), nil
}

func buildDataset(catPtr *C.double, conPtr *C.double, rows, nCat, nCon C.int, targetPtr, weightsPtr *C.double) (*ltree.Dataset, error) {
	if rows <= 0 {
		return nil, errors.New("rows must be positive")
	}
	ds := &ltree.Dataset{}
	var err error
	if ds.Categorical, err = buildDense(catPtr, rows, nCat); err != nil {
		return nil, err
	}
	if ds.Continuous, err = buildDense(conPtr, rows, nCon); err != nil {
		return nil, err
	}
	if targetPtr == nil {
		ds.Target = mat.NewDense(int(rows), 1, nil)
	} else if ds.Target, err = buildDense(targetPtr, rows, 1); err != nil {
		return nil, err
	}
	if weightsPtr != nil {
		if ds.Weights, err = buildDense(weightsPtr, rows, 1); err != nil {
			return nil, err
		}
	}
	return ds, ds.Validate()
}

//treeParams are the induction options of TrainTree in Go types, flags are 0 or 1.
type treeParams struct {
	maxDepth, minSplit, minBucket, maxSurrogates int
	impurity                                     int
	isRegression                                 int
	nLabels, nRandomFeatures                     int
	weightsAsRows                                int
	termination                                  int
	finalizeSettledLeaves                        int
	seed                                         uint64
}

func (p treeParams) options() (*ltree.Options, error) {
	metric := ltree.ImpurityMetric(p.impurity)
	switch metric {
	case ltree.NoImpurity, ltree.Gini, ltree.Entropy, ltree.Misclassification:
	default:
		return nil, errors.New("unsupported impurity kind")
	}
	policy := ltree.Termination(p.termination)
	if policy != ltree.SettleEither && policy != ltree.SettleStrict {
		return nil, errors.New("unsupported termination policy")
	}
	opts := &ltree.Options{
		MaxDepth:              p.maxDepth,
		MinSplit:              p.minSplit,
		MinBucket:             p.minBucket,
		MaxSurrogates:         p.maxSurrogates,
		Impurity:              metric,
		IsRegression:          p.isRegression != 0,
		NLabels:               p.nLabels,
		NRandomFeatures:       p.nRandomFeatures,
		WeightsAsRows:         p.weightsAsRows != 0,
		Termination:           policy,
		FinalizeSettledLeaves: p.finalizeSettledLeaves != 0,
		Seed:                  p.seed,
	}
	return opts, opts.Check()
}

//export TrainTree
func TrainTree(
	catPtr *C.double,
	conPtr *C.double,
	rows C.int,
	nCat C.int,
	nCon C.int,
	targetPtr *C.double,
	weightsPtr *C.double,
	nBins C.int,
	partitions C.int,
	maxDepth C.int,
	minSplit C.int,
	minBucket C.int,
	maxSurrogates C.int,
	impurity C.int,
	isRegression C.int,
	nLabels C.int,
	nRandomFeatures C.int,
	weightsAsRows C.int,
	termination C.int,
	finalizeSettledLeaves C.int,
	seed C.ulonglong,
	desc *C.char,
) C.ulonglong {
	setLastError(nil)
	logSilenceOnce.Do(func() {
		log.SetOutput(io.Discard)
	})

	if targetPtr == nil {
		setLastError(errors.New("target is required"))
		return 0
	}
	ds, err := buildDataset(catPtr, conPtr, rows, nCat, nCon, targetPtr, weightsPtr)
	if err != nil {
		setLastError(err)
		return 0
	}

	if desc != nil {
		ds.SetDescription(C.GoString(desc))
	}

	opts, err := treeParams{
		maxDepth:              int(maxDepth),
		minSplit:              int(minSplit),
		minBucket:             int(minBucket),
		maxSurrogates:         int(maxSurrogates),
		impurity:              int(impurity),
		isRegression:          int(isRegression),
		nLabels:               int(nLabels),
		nRandomFeatures:       int(nRandomFeatures),
		weightsAsRows:         int(weightsAsRows),
		termination:           int(termination),
		finalizeSettledLeaves: int(finalizeSettledLeaves),
		seed:                  uint64(seed),
	}.options()
	if err != nil {
		setLastError(err)
		return 0
	}
	params := ltree.TrainParams{
		Dataset:    ds,
		NBins:      int(nBins),
		Partitions: max(1, int(partitions)),
		Options:    opts,
	}

	model, err := ltree.TrainModel(context.Background(), params)
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.ulonglong(storeModel(model))
}

//export Predict
func Predict(
	handle C.ulonglong,
	catPtr *C.double,
	conPtr *C.double,
	rows C.int,
	nCat C.int,
	nCon C.int,
	outputPtr *C.double,
) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}

	ds, err := buildDataset(catPtr, conPtr, rows, nCat, nCon, nil, nil)
	if err != nil {
		setLastError(err)
		return 2
	}
	if err := model.Check(ds); err != nil {
		setLastError(err)
		return 3
	}

	outSlice, err := sliceFromPtr(outputPtr, int(rows))
	if err != nil {
		setLastError(err)
		return 4
	}
	copy(outSlice, model.PredictBatch(ds).RawMatrix().Data)
	return 0
}

//export SaveModel
func SaveModel(handle C.ulonglong, path *C.char) C.int {
	setLastError(nil)
	model, err := fetchModel(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	if err := model.Save(C.GoString(path)); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export LoadModel
func LoadModel(path *C.char) C.ulonglong {
	setLastError(nil)
	model, err := ltree.LoadModel(C.GoString(path))
	if err != nil {
		setLastError(err)
		return 0
	}
	return C.ulonglong(storeModel(model))
}

//export GetLastError
func GetLastError() *C.char {
	errStr := getLastError()
	if errStr == "" {
		return nil
	}
	return C.CString(errStr)
}

//export FreeCString
func FreeCString(str *C.char) {
	if str != nil {
		C.free(unsafe.Pointer(str))
	}
}

func main() {}
