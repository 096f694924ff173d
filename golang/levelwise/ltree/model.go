package ltree

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"gonum.org/v1/gonum/mat"
)

//Model is the persisted artifact: the tree together with everything needed to route raw rows.
type Model struct {
	Tree     *Tree          `json:"tree"`
	Schema   Schema         `json:"schema"`
	Encoding *LevelEncoding `json:"encoding,omitempty"`
	Options  *Options       `json:"options"`

	Description string `json:"description,omitempty"`
}

//TrainParams collect arguments required to train a model.
//The encoding and the bins are fitted on Dataset. The tree is induced over Sources when they are
//given, otherwise over Partitions contiguous blocks of Dataset.
type TrainParams struct {
	Dataset    *Dataset
	Sources    []RowSource
	NBins      int
	Partitions int
	Options    *Options
}

//FitSchema fits the categorical encoding and the continuous bins on a dataset.
func FitSchema(ds *Dataset, nBins int, isRegression bool) (Schema, *LevelEncoding) {
	enc := FitLevelEncoding(ds, isRegression)
	return Schema{CatLevels: enc.CatLevels(), ConSplits: QuantileSplits(ds, nBins)}, enc
}

//TrainModel fits the schema and induces a tree.
func TrainModel(ctx context.Context, params TrainParams) (*Model, error) {
	if err := params.Dataset.Validate(); err != nil {
		return nil, err
	}
	schema, enc := FitSchema(params.Dataset, params.NBins, params.Options.IsRegression)
	log.Printf("training on %s, %d rows: %d categorical, %d continuous features, %s",
		params.Dataset.describe(), params.Dataset.Len(), schema.NCat(), schema.NCon(), params.Options)
	sources := params.Sources
	if len(sources) == 0 {
		sources = params.Dataset.Partition(params.Partitions)
	}
	tree, err := Induce(ctx, enc.WrapAll(sources), schema, params.Options)
	if err != nil {
		return nil, err
	}
	model := &Model{Tree: tree, Schema: schema, Encoding: enc, Options: params.Options.Clone()}
	if params.Dataset.Description != nil {
		model.Description = *params.Dataset.Description
	}
	return model, nil
}

//encode applies the level encoding, if any, to a raw row.
func (model *Model) encode(row Row) Row {
	if model.Encoding == nil {
		return row
	}
	return model.Encoding.EncodeRow(row)
}

//PredictValue returns the mean response or the arg-max label of a raw row.
func (model *Model) PredictValue(row Row) float64 {
	return model.Tree.PredictResponse(model.encode(row))
}

//PredictBatch predicts every row of ds into a column matrix.
func (model *Model) PredictBatch(ds *Dataset) *mat.Dense {
	h := ds.Len()
	prediction := mat.NewDense(h, 1, nil)
	for p := 0; p < h; p++ {
		prediction.Set(p, 0, model.PredictValue(ds.Row(p)))
	}
	return prediction
}

//PredictProportions predicts the label proportions (classification) or the mean (regression)
//of every row of ds, one row of the result per row of ds.
func (model *Model) PredictProportions(ds *Dataset) *mat.Dense {
	h := ds.Len()
	w := 1
	if !model.Tree.Layout.IsRegression {
		w = model.Tree.Layout.NLabels
	}
	prediction := mat.NewDense(h, w, nil)
	for p := 0; p < h; p++ {
		prediction.SetRow(p, model.Tree.Predict(model.encode(ds.Row(p))))
	}
	return prediction
}

//Check validates that the model matches a dataset layout.
func (model *Model) Check(ds *Dataset) error {
	if ds.NCat() != model.Schema.NCat() || ds.NCon() != model.Schema.NCon() {
		return fmt.Errorf("%w: model expects %d categorical and %d continuous features, data has %d and %d",
			ErrFeatureCount, model.Schema.NCat(), model.Schema.NCon(), ds.NCat(), ds.NCon())
	}
	return nil
}

//Save stores the model as indented JSON.
func (model *Model) Save(filename string) error {
	dest, err := os.Create(filename)
	if err != nil {
		log.Print("can't open file ", filename, " to write")
		return err
	}
	defer func() { HandleError(dest.Close()) }()

	modelByteRepr, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	_, err = dest.Write(modelByteRepr)
	return err
}

//LoadModel reads a model stored by Save.
func LoadModel(filename string) (*Model, error) {
	source, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() { HandleError(source.Close()) }()

	model := &Model{}
	if err := json.NewDecoder(source).Decode(model); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}
	if err := model.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return model, nil
}

//validate checks that a decoded model can route and predict rows without panicking.
func (model *Model) validate() error {
	tree := model.Tree
	if tree == nil || tree.Depth < 1 || len(tree.Nodes) != NodeCount(tree.Depth) {
		return fmt.Errorf("%w: malformed tree", ErrShapeMismatch)
	}
	if err := model.Schema.Check(); err != nil {
		return err
	}
	sps := tree.Layout.PerSplit()
	for ind, node := range tree.Nodes {
		if len(node.Prediction) != sps {
			return fmt.Errorf("%w: node %d holds %d statistics, expected %d", ErrShapeMismatch, ind, len(node.Prediction), sps)
		}
		if node.FeatureIndex < NodeNonExisting {
			return fmt.Errorf("%w: node %d has state %d", ErrShapeMismatch, ind, node.FeatureIndex)
		}
		if node.FeatureIndex < 0 {
			continue
		}
		if !model.hasFeature(node.FeatureIndex, node.IsCategorical) {
			return fmt.Errorf("%w: node %d splits on a missing feature %d", ErrFeatureCount, ind, node.FeatureIndex)
		}
		if FalseChild(ind) >= len(tree.Nodes) {
			return fmt.Errorf("%w: split node %d has no children", ErrShapeMismatch, ind)
		}
		for _, surr := range node.Surrogates {
			if !model.hasFeature(surr.FeatureIndex, surr.IsCategorical()) {
				return fmt.Errorf("%w: node %d has a surrogate on a missing feature %d", ErrFeatureCount, ind, surr.FeatureIndex)
			}
		}
	}
	return nil
}

func (model *Model) hasFeature(f int, isCategorical bool) bool {
	if isCategorical {
		return f >= 0 && f < model.Schema.NCat()
	}
	return f >= 0 && f < model.Schema.NCon()
}
