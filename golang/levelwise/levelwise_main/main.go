package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"
	"github.com/tarstars/levelwise_trees/golang/levelwise/ltree"
	"github.com/tarstars/levelwise_trees/golang/levelwise/mongosrc"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

//decodeConfig reads a YAML (or JSON) config over the defaults already stored in out.
func decodeConfig(srcConfig string, out interface{}) error {
	file, err := os.Open(srcConfig)
	if err != nil {
		return err
	}
	defer func() { ltree.HandleError(file.Close()) }()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("config %s: %w", srcConfig, err)
	}
	return nil
}

type TrainConfig struct {
	FileNameTrainCat     string `yaml:"filename_train_cat"`
	FileNameTrainCon     string `yaml:"filename_train_con"`
	FileNameTrainTarget  string `yaml:"filename_train_target"`
	FileNameTrainWeights string `yaml:"filename_train_weights"`

	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
	NCat            int    `yaml:"n_cat"`
	NCon            int    `yaml:"n_con"`

	Description   string `yaml:"description"`
	FileNameModel string `yaml:"filename_model"`
	NBins         int    `yaml:"n_bins"`
	Partitions    int    `yaml:"partitions"`

	MaxDepth              int    `yaml:"max_depth"`
	MinSplit              int    `yaml:"min_split"`
	MinBucket             int    `yaml:"min_bucket"`
	MaxSurrogates         int    `yaml:"max_surrogates"`
	Impurity              string `yaml:"impurity"`
	IsRegression          bool   `yaml:"is_regression"`
	NLabels               int    `yaml:"n_labels"`
	NRandomFeatures       int    `yaml:"n_random_features"`
	WeightsAsRows         bool   `yaml:"weights_as_rows"`
	Termination           string `yaml:"termination"`
	FinalizeSettledLeaves bool   `yaml:"finalize_settled_leaves"`
	Seed                  uint64 `yaml:"seed"`
}

func defaultTrainConfig() TrainConfig {
	opts := ltree.DefaultOptions()
	return TrainConfig{
		MongoDatabase:   "levelwise",
		MongoCollection: "rows",
		FileNameModel:   "model.json",
		NBins:           20,
		Partitions:      runtime.NumCPU(),
		MaxDepth:        opts.MaxDepth,
		MinSplit:        opts.MinSplit,
		MinBucket:       opts.MinBucket,
		Impurity:        opts.Impurity.String(),
		NLabels:         opts.NLabels,
	}
}

//options converts the config into induction options.
func (cfg TrainConfig) options() (*ltree.Options, error) {
	impurity, err := ltree.ParseImpurity(cfg.Impurity)
	if err != nil {
		return nil, err
	}
	termination, err := ltree.ParseTermination(cfg.Termination)
	if err != nil {
		return nil, err
	}
	opts := &ltree.Options{
		MaxDepth:              cfg.MaxDepth,
		MinSplit:              cfg.MinSplit,
		MinBucket:             cfg.MinBucket,
		MaxSurrogates:         cfg.MaxSurrogates,
		Impurity:              impurity,
		IsRegression:          cfg.IsRegression,
		NLabels:               cfg.NLabels,
		NRandomFeatures:       cfg.NRandomFeatures,
		WeightsAsRows:         cfg.WeightsAsRows,
		Termination:           termination,
		FinalizeSettledLeaves: cfg.FinalizeSettledLeaves,
		Seed:                  cfg.Seed,
	}
	return opts, opts.Check()
}

func train(ctx context.Context, cfg TrainConfig) error {
	opts, err := cfg.options()
	if err != nil {
		return err
	}
	params := ltree.TrainParams{NBins: cfg.NBins, Partitions: cfg.Partitions, Options: opts}

	if cfg.MongoURI != "" {
		log.Print("load train from ", cfg.MongoDatabase, ".", cfg.MongoCollection)
		client, collection, err := mongosrc.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return err
		}
		defer func() { ltree.HandleError(client.Disconnect(ctx)) }()

		src := mongosrc.New(collection, nil)
		if params.Dataset, err = ltree.Collect(ctx, src, cfg.NCat, cfg.NCon); err != nil {
			return err
		}
		if params.Sources, err = src.Partition(ctx, cfg.Partitions); err != nil {
			return err
		}
	} else {
		log.Println("load train")
		params.Dataset, err = ltree.ReadDataset(cfg.FileNameTrainCat, cfg.FileNameTrainCon, cfg.FileNameTrainTarget, cfg.FileNameTrainWeights)
		if err != nil {
			return err
		}
	}

	if cfg.Description != "" {
		params.Dataset.SetDescription(cfg.Description)
	}
	model, err := ltree.TrainModel(ctx, params)
	if err != nil {
		return err
	}
	log.Printf("trained a tree of depth %d with %d leaves", model.Tree.Depth, len(model.Tree.Leaves()))
	return model.Save(cfg.FileNameModel)
}

type PredictConfig struct {
	DataCatFileName    string `yaml:"filename_feature_cat"`
	DataConFileName    string `yaml:"filename_feature_con"`
	ModelFileName      string `yaml:"filename_model"`
	PredictionFileName string `yaml:"filename_target"`
	Proportions        bool   `yaml:"proportions"`
}

//readFeatures loads the feature matrices of a data set without a target.
func readFeatures(catFileName, conFileName string) (*ltree.Dataset, error) {
	ds := &ltree.Dataset{}
	var err error
	if catFileName != "" {
		if ds.Categorical, err = ltree.ReadNpy(catFileName); err != nil {
			return nil, err
		}
	}
	if conFileName != "" {
		if ds.Continuous, err = ltree.ReadNpy(conFileName); err != nil {
			return nil, err
		}
	}
	h := 0
	for _, m := range []*mat.Dense{ds.Categorical, ds.Continuous} {
		if m != nil {
			h, _ = m.Dims()
		}
	}
	if h == 0 {
		return nil, fmt.Errorf("no features in %q and %q", catFileName, conFileName)
	}
	ds.Target = mat.NewDense(h, 1, nil)
	return ds, ds.Validate()
}

func predict(cfg PredictConfig) error {
	ds, err := readFeatures(cfg.DataCatFileName, cfg.DataConFileName)
	if err != nil {
		return err
	}
	model, err := ltree.LoadModel(cfg.ModelFileName)
	if err != nil {
		return err
	}
	if err := model.Check(ds); err != nil {
		return err
	}

	var prediction *mat.Dense
	if cfg.Proportions {
		prediction = model.PredictProportions(ds)
	} else {
		prediction = model.PredictBatch(ds)
	}
	return ltree.WriteNpy(cfg.PredictionFileName, prediction)
}

type RiskConfig struct {
	ModelFileName string `yaml:"filename_model"`
}

func risk(cfg RiskConfig, out io.Writer) error {
	model, err := ltree.LoadModel(cfg.ModelFileName)
	if err != nil {
		return err
	}
	tree := model.Tree
	fmt.Fprintf(out, "%8s %12s %14s %14s\n", "leaf", "rows", "weight", "risk")
	for _, leaf := range tree.Leaves() {
		fmt.Fprintf(out, "%8d %12g %14g %14g\n", leaf, tree.NodeCount(leaf), tree.NodeWeightedCount(leaf), tree.Risk(leaf))
	}
	fmt.Fprintf(out, "root risk %g, leaves risk %g\n", tree.Risk(0), tree.TotalRisk())
	return nil
}

func newRootCommand() *cobra.Command {
	var config, memprofile string

	root := &cobra.Command{
		Use:           "levelwise",
		Short:         "Level-wise decision tree induction",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if memprofile == "" {
				return nil
			}
			f, err := os.Create(memprofile)
			if err != nil {
				return err
			}
			defer func() { ltree.HandleError(f.Close()) }()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				return fmt.Errorf("could not write memory profile: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&config, "config", "levelwise_config.yaml", "a config file for the run of the program")
	root.PersistentFlags().StringVar(&memprofile, "memprofile", "", "write memory profile to `file`")

	root.AddCommand(&cobra.Command{
		Use:   "train",
		Short: "Train a tree and save the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := defaultTrainConfig()
			if err := decodeConfig(config, &cfg); err != nil {
				return err
			}
			return train(cmd.Context(), cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "predict",
		Short: "Predict npy features with a saved model",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg PredictConfig
			if err := decodeConfig(config, &cfg); err != nil {
				return err
			}
			return predict(cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "risk",
		Short: "Print per-leaf row counts and risk of a saved model",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg RiskConfig
			if err := decodeConfig(config, &cfg); err != nil {
				return err
			}
			return risk(cfg, cmd.OutOrStdout())
		},
	})
	return root
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
