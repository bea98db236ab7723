package main

import (
	"flag"
	"io/ioutil"
	"log"
	"math/rand"
	"os"

	"github.com/gorgonia/vrbound"
	"github.com/gorgonia/vrbound/encoding/gif"
)

var (
	confFile = flag.String("conf", "", "YAML configuration. Empty trains a 2 layer model on bars")
	side     = flag.Int("side", 8, "side of the generated bar images")
	train    = flag.Int("train", 1000, "number of training images")
	test     = flag.Int("test", 200, "number of held out images")
	epochs   = flag.Int("epochs", 20, "number of epochs")
	alpha    = flag.Float64("alpha", 0, "alpha of the bound. Overrides the configuration when set")
	samples  = flag.Int("samples", 0, "samples per observation when scoring. 0 keeps the configured number")

	gifFile   = flag.String("gif", "", "write reconstructions of every epoch into this GIF")
	dotFile   = flag.String("dot", "", "write the model as a graphviz file")
	statsFile = flag.String("stats", "", "write per epoch statistics into this CSV")
	verbose   = flag.Bool("v", false, "print the training log when done")
)

// bars makes n binary side×side images with one horizontal or vertical bar lit.
func bars(r *rand.Rand, n, side int) []float32 {
	retVal := make([]float32, n*side*side)
	for i := 0; i < n; i++ {
		img := retVal[i*side*side : (i+1)*side*side]
		at := r.Intn(side)
		horizontal := r.Intn(2) == 0
		for j := 0; j < side; j++ {
			if horizontal {
				img[at*side+j] = 1
			} else {
				img[j*side+at] = 1
			}
		}
	}
	return retVal
}

func config() vrbound.Config {
	if *confFile != "" {
		conf, err := vrbound.LoadConfig(*confFile)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		if conf.Height == 0 || conf.Height != conf.Width {
			log.Fatalf("bars are square images. Got %dx%d", conf.Height, conf.Width)
		}
		*side = conf.Height
		return conf
	}
	features := *side * *side
	conf := vrbound.DefaultConfig(features, features/2, features/4)
	conf.Name = "Bars"
	conf.Height, conf.Width = *side, *side
	conf.NNConf.Seed = 1337
	return conf
}

func main() {
	flag.Parse()
	conf := config()
	isSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { isSet[f.Name] = true })
	if isSet["alpha"] {
		conf.NNConf.Alpha = *alpha
	}

	var enc *gif.Encoder
	if *gifFile != "" {
		f, err := os.Create(*gifFile)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		enc = gif.NewGifEncoder(1024, 1024)
		enc.Writer = f
		conf.OutputEncoder = enc
	}
	if *dotFile != "" {
		dot, err := conf.NNConf.ToDot()
		if err != nil {
			log.Fatalf("%+v", err)
		}
		if err = ioutil.WriteFile(*dotFile, []byte(dot), 0644); err != nil {
			log.Fatal(err)
		}
	}

	features := conf.NNConf.Features
	r := rand.New(rand.NewSource(conf.NNConf.Seed))
	trainSet, err := vrbound.NewDataset(bars(r, *train, *side), features)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	testSet, err := vrbound.NewDataset(bars(r, *test, *side), features)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	log.Printf("%d training images, %d held out. Mean pixel of the first row: %v", trainSet.Len(), testSet.Len(), trainSet.Mean()[:*side])

	a, err := vrbound.New(conf)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	log.Printf("Training %q with alpha %v, K %d", conf.Name, conf.NNConf.Alpha, conf.NNConf.Samples)
	if _, err = a.Fit(trainSet, *epochs); err != nil {
		log.Fatalf("%+v", err)
	}

	trainBound, took, err := a.Score(trainSet, *samples)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	log.Printf("Training bound %.4f, took %v", trainBound, took)
	testBound, took, err := a.Score(testSet, *samples)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	log.Printf("Held out bound %.4f, took %v", testBound, took)

	if *statsFile != "" {
		if err = a.Dump(*statsFile); err != nil {
			log.Fatal(err)
		}
	}
	if *verbose {
		a.Log(os.Stderr)
	}
	if err = a.Close(); err != nil {
		log.Fatal(err)
	}
}
