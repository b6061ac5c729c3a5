package network

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Orthogonal returns an initializer of (rows, cols) weight matrices
// whose rows, or columns if there are fewer of them, are orthogonal
// vectors of norm gain, following https://arxiv.org/abs/1312.6120.
//
// The matrix is the Q factor of the QR decomposition of a standard
// normal matrix drawn from src, with the signs of its columns fixed by
// the diagonal of R so that it is uniformly distributed.
func Orthogonal(gain float64, src rand.Source) G.InitWFn {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	return func(dt tensor.Dtype, s ...int) interface{} {
		if dt != tensor.Float64 {
			panic(fmt.Sprintf("orthogonal: unsupported dtype %v", dt))
		}
		if len(s) != 2 {
			panic(fmt.Sprintf("orthogonal: expected a matrix shape, have %v",
				s))
		}
		rows, cols := s[0], s[1]

		// Factorize a tall matrix and transpose the result if needed
		n, k := rows, cols
		if rows < cols {
			n, k = cols, rows
		}
		a := mat.NewDense(n, k, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < k; j++ {
				a.Set(i, j, normal.Rand())
			}
		}

		var qr mat.QR
		qr.Factorize(a)
		var q, r mat.Dense
		qr.QTo(&q)
		qr.RTo(&r)

		out := mat.NewDense(rows, cols, nil)
		for j := 0; j < k; j++ {
			scale := gain
			if r.At(j, j) < 0 {
				scale = -gain
			}
			for i := 0; i < n; i++ {
				if rows >= cols {
					out.Set(i, j, scale*q.At(i, j))
				} else {
					out.Set(j, i, scale*q.At(i, j))
				}
			}
		}
		return out.RawMatrix().Data
	}
}
