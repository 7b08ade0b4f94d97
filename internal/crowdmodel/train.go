package crowdmodel

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrInsufficientData is returned when there are too few samples to fit a model.
var ErrInsufficientData = errors.New("insufficient training data")

// Sample is one training example: raw (unscaled) features and the observed count.
type Sample struct {
	Features []float64
	Target   float64
}

// Options controls a training run.
type Options struct {
	Hidden          []int
	Epochs          int
	BatchSize       int
	LearningRate    float64
	ValidationSplit float64
	Dropout         float64
	Seed            int64
	MinSamples      int
}

// DefaultOptions mirrors the production training configuration.
func DefaultOptions() Options {
	return Options{
		Hidden:          []int{32, 16, 8},
		Epochs:          20,
		BatchSize:       4,
		LearningRate:    0.001,
		ValidationSplit: 0.2,
		Dropout:         0.2,
		Seed:            42,
		MinSamples:      1,
	}
}

// Report summarises a training run.
type Report struct {
	Samples           int     `json:"samples"`
	TrainSamples      int     `json:"train_samples"`
	ValidationSamples int     `json:"validation_samples"`
	Epochs            int     `json:"epochs"`
	InitialLoss       float64 `json:"initial_loss"`
	FinalLoss         float64 `json:"final_loss"`
	FinalMAE          float64 `json:"final_mae"`
	ValidationLoss    float64 `json:"validation_loss"`
}

// Fit trains a network on samples. The trailing ValidationSplit fraction is
// held out for evaluation and never used for weight updates.
func Fit(samples []Sample, opts Options) (*Network, *Scaler, Report, error) {
	need := opts.MinSamples
	if need < 1 {
		need = 1
	}
	if len(samples) < need {
		return nil, nil, Report{}, fmt.Errorf("%w: have %d samples, need %d", ErrInsufficientData, len(samples), need)
	}
	if opts.Epochs <= 0 || opts.BatchSize <= 0 || opts.LearningRate <= 0 {
		return nil, nil, Report{}, fmt.Errorf("invalid training options: epochs=%d batch=%d lr=%g", opts.Epochs, opts.BatchSize, opts.LearningRate)
	}

	raw := make([][]float64, len(samples))
	targets := make([]float64, len(samples))
	for i, s := range samples {
		raw[i] = s.Features
		targets[i] = s.Target
	}

	scaler, err := FitScaler(raw)
	if err != nil {
		return nil, nil, Report{}, err
	}
	x := scaler.TransformAll(raw)

	nVal := int(float64(len(x)) * opts.ValidationSplit)
	if len(x)-nVal < 1 {
		nVal = 0
	}
	nTrain := len(x) - nVal
	trainX, trainY := x[:nTrain], targets[:nTrain]
	valX, valY := x[nTrain:], targets[nTrain:]

	rng := rand.New(rand.NewSource(opts.Seed))
	net := NewNetwork(len(raw[0]), opts.Hidden, rng)
	opt := newAdam(net, opts.LearningRate)

	report := Report{
		Samples:           len(samples),
		TrainSamples:      nTrain,
		ValidationSamples: nVal,
		Epochs:            opts.Epochs,
	}
	report.InitialLoss, _ = evaluate(net, trainX, trainY)

	order := make([]int, nTrain)
	for i := range order {
		order[i] = i
	}
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for start := 0; start < nTrain; start += opts.BatchSize {
			end := start + opts.BatchSize
			if end > nTrain {
				end = nTrain
			}
			g := newGradients(net)
			batch := float64(end - start)
			for _, idx := range order[start:end] {
				out, tr := net.forward(trainX[idx], opts.Dropout, rng)
				net.backward(tr, 2*(out-trainY[idx])/batch, g)
			}
			opt.update(net, g)
		}
	}

	report.FinalLoss, report.FinalMAE = evaluate(net, trainX, trainY)
	if nVal > 0 {
		report.ValidationLoss, _ = evaluate(net, valX, valY)
	}
	return net, scaler, report, nil
}

// evaluate returns mean squared and mean absolute error without dropout.
func evaluate(net *Network, x [][]float64, y []float64) (float64, float64) {
	if len(x) == 0 {
		return 0, 0
	}
	var mse, mae float64
	for i := range x {
		diff := net.Predict(x[i]) - y[i]
		mse += diff * diff
		mae += math.Abs(diff)
	}
	n := float64(len(x))
	return mse / n, mae / n
}
