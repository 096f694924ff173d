package ltree

import (
	"errors"
	"log"
)

var (
	//ErrTerminated is returned for every row fed to an accumulator after a fatal error.
	ErrTerminated = errors.New("accumulator terminated")
	//ErrShapeMismatch reports accumulators (or an accumulator and a tree) of different shapes.
	ErrShapeMismatch = errors.New("inconsistent accumulator shapes")
	//ErrNonFiniteResponse reports a row whose response is NaN or infinite.
	ErrNonFiniteResponse = errors.New("response variable values are not finite")
	//ErrFeatureCount reports a row whose feature vectors disagree with the schema.
	ErrFeatureCount = errors.New("inconsistent numbers of independent variables")
	//ErrBadLabel reports a classification response that is not a label index.
	ErrBadLabel = errors.New("classification response is not a valid label index")
	//ErrBadWeight reports a negative or non-finite row weight.
	ErrBadWeight = errors.New("row weight must be finite and non-negative")
	//ErrNoImpurity reports a classification tree without an impurity metric.
	ErrNoImpurity = errors.New("no impurity function set for a classification tree")
	//ErrFrontierMismatch reports an accumulator built for another tree level.
	ErrFrontierMismatch = errors.New("accumulator does not match the tree frontier")
)

//HandleError panics on a non-nil error. It is meant for places where
//an error means a broken installation rather than bad input.
func HandleError(err error) {
	if err != nil {
		log.Panic(err)
	}
}
