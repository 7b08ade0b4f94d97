package crowdmodel

import (
	"math"
	"math/rand"
)

// Dense is a fully connected layer. Weights are indexed [output][input].
type Dense struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// Network is a feed-forward regressor: ReLU hidden layers and a single
// linear output unit.
type Network struct {
	Layers []Dense `json:"layers"`
}

// NewNetwork builds a network with Glorot-uniform weights and zero biases.
func NewNetwork(inputs int, hidden []int, rng *rand.Rand) *Network {
	sizes := append(append([]int{inputs}, hidden...), 1)
	n := &Network{Layers: make([]Dense, len(sizes)-1)}
	for l := range n.Layers {
		in, out := sizes[l], sizes[l+1]
		limit := math.Sqrt(6 / float64(in+out))
		layer := Dense{Weights: make([][]float64, out), Bias: make([]float64, out)}
		for o := range layer.Weights {
			layer.Weights[o] = make([]float64, in)
			for i := range layer.Weights[o] {
				layer.Weights[o][i] = (rng.Float64()*2 - 1) * limit
			}
		}
		n.Layers[l] = layer
	}
	return n
}

func (d *Dense) apply(in []float64) []float64 {
	out := make([]float64, len(d.Bias))
	for o, row := range d.Weights {
		sum := d.Bias[o]
		for i, w := range row {
			sum += w * in[i]
		}
		out[o] = sum
	}
	return out
}

// Predict runs a forward pass on an already scaled feature vector.
func (n *Network) Predict(x []float64) float64 {
	a := x
	last := len(n.Layers) - 1
	for l := range n.Layers {
		z := n.Layers[l].apply(a)
		if l < last {
			for i := range z {
				z[i] = math.Max(0, z[i])
			}
		}
		a = z
	}
	return a[0]
}

// trace keeps what backpropagation needs from one forward pass.
type trace struct {
	inputs [][]float64 // input to each layer
	pre    [][]float64 // pre-activation of each layer
	masks  [][]float64 // dropout scale per hidden unit; nil when not applied
}

// forward runs a training pass. Dropout is applied to every hidden layer
// except the last one.
func (n *Network) forward(x []float64, dropout float64, rng *rand.Rand) (float64, trace) {
	last := len(n.Layers) - 1
	tr := trace{
		inputs: make([][]float64, len(n.Layers)),
		pre:    make([][]float64, len(n.Layers)),
		masks:  make([][]float64, len(n.Layers)),
	}
	a := x
	for l := range n.Layers {
		tr.inputs[l] = a
		z := n.Layers[l].apply(a)
		tr.pre[l] = z
		if l == last {
			return z[0], tr
		}
		act := make([]float64, len(z))
		for i, v := range z {
			act[i] = math.Max(0, v)
		}
		if dropout > 0 && l < last-1 {
			mask := make([]float64, len(act))
			keep := 1 - dropout
			for i := range act {
				if rng.Float64() < keep {
					mask[i] = 1 / keep
				}
				act[i] *= mask[i]
			}
			tr.masks[l] = mask
		}
		a = act
	}
	return 0, tr
}

// gradients mirrors the network's parameter shapes.
type gradients struct {
	w [][][]float64
	b [][]float64
}

func newGradients(n *Network) gradients {
	g := gradients{w: make([][][]float64, len(n.Layers)), b: make([][]float64, len(n.Layers))}
	for l, layer := range n.Layers {
		g.w[l] = make([][]float64, len(layer.Weights))
		for o := range layer.Weights {
			g.w[l][o] = make([]float64, len(layer.Weights[o]))
		}
		g.b[l] = make([]float64, len(layer.Bias))
	}
	return g
}

// backward accumulates the gradient of one sample into g, given dLoss/dOutput.
func (n *Network) backward(tr trace, dOut float64, g gradients) {
	delta := []float64{dOut}
	for l := len(n.Layers) - 1; l >= 0; l-- {
		layer := n.Layers[l]
		in := tr.inputs[l]
		for o, d := range delta {
			g.b[l][o] += d
			for i, v := range in {
				g.w[l][o][i] += d * v
			}
		}
		if l == 0 {
			return
		}

		prev := make([]float64, len(in))
		for o, d := range delta {
			for i, w := range layer.Weights[o] {
				prev[i] += w * d
			}
		}
		mask := tr.masks[l-1]
		for i := range prev {
			if mask != nil {
				prev[i] *= mask[i]
			}
			if tr.pre[l-1][i] <= 0 {
				prev[i] = 0
			}
		}
		delta = prev
	}
}

// adam holds first and second moment estimates for every parameter.
type adam struct {
	lr, beta1, beta2, eps float64
	step                  int
	m, v                  gradients
}

func newAdam(n *Network, lr float64) *adam {
	return &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7, m: newGradients(n), v: newGradients(n)}
}

func (a *adam) update(n *Network, g gradients) {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))

	move := func(p, grad, m, v *float64) {
		*m = a.beta1**m + (1-a.beta1)**grad
		*v = a.beta2**v + (1-a.beta2)**grad**grad
		*p -= a.lr * (*m / c1) / (math.Sqrt(*v/c2) + a.eps)
	}

	for l := range n.Layers {
		layer := &n.Layers[l]
		for o := range layer.Weights {
			for i := range layer.Weights[o] {
				move(&layer.Weights[o][i], &g.w[l][o][i], &a.m.w[l][o][i], &a.v.w[l][o][i])
			}
			move(&layer.Bias[o], &g.b[l][o], &a.m.b[l][o], &a.v.b[l][o])
		}
	}
}
