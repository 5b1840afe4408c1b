package ec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGfMulBasics(t *testing.T) {
	for a := 0; a < 256; a++ {
		assert.Equal(t, byte(0), gfMul(byte(a), 0))
		assert.Equal(t, byte(0), gfMul(0, byte(a)))
		assert.Equal(t, byte(a), gfMul(byte(a), 1))
		assert.Equal(t, byte(a), gfMul(1, byte(a)))
	}
}

func TestGfMulCommutative(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		a, b := byte(rnd.Intn(256)), byte(rnd.Intn(256))
		assert.Equal(t, gfMul(a, b), gfMul(b, a))
	}
}

func TestGfInv(t *testing.T) {
	for a := 1; a < 256; a++ {
		assert.Equal(t, byte(1), gfMul(byte(a), gfInv(byte(a))), "a=%d", a)
	}
}

func TestGenRSMatrixIdentityTop(t *testing.T) {
	g := genRSMatrix(4, 2)
	require.Equal(t, 6, g.rows)
	require.Equal(t, 4, g.cols)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			want := byte(0)
			if r == c {
				want = 1
			}
			assert.Equal(t, want, g.at(r, c))
		}
	}
	// Cauchy rows must be fully non-zero.
	for r := 4; r < 6; r++ {
		for c := 0; c < 4; c++ {
			assert.NotEqual(t, byte(0), g.at(r, c))
		}
	}
}

func TestInvertMatrixRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	for trial := 0; trial < 20; trial++ {
		n := 1 + rnd.Intn(6)
		m := newMatrix(n, n)
		// Random matrices over GF(2^8) are overwhelmingly invertible;
		// retry the rare singular draw.
		var inv matrix
		for {
			for i := range m.data {
				m.data[i] = byte(rnd.Intn(256))
			}
			var err error
			inv, err = invertMatrix(m)
			if err == nil {
				break
			}
		}
		// m * inv must be the identity.
		for r := 0; r < n; r++ {
			for c := 0; c < n; c++ {
				var acc byte
				for s := 0; s < n; s++ {
					acc ^= gfMul(m.at(r, s), inv.at(s, c))
				}
				want := byte(0)
				if r == c {
					want = 1
				}
				require.Equal(t, want, acc, "n=%d r=%d c=%d", n, r, c)
			}
		}
	}
}

func TestInvertMatrixSingular(t *testing.T) {
	m := newMatrix(2, 2)
	// Two identical rows.
	m.set(0, 0, 3)
	m.set(0, 1, 7)
	m.set(1, 0, 3)
	m.set(1, 1, 7)
	_, err := invertMatrix(m)
	assert.Error(t, err)
}

func TestInvertMatrixNotSquare(t *testing.T) {
	_, err := invertMatrix(newMatrix(2, 3))
	assert.Error(t, err)
}

func TestEncodeDataMatchesGfMul(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	const k, rows, length = 3, 2, 64
	coef := newMatrix(rows, k)
	for i := range coef.data {
		coef.data[i] = byte(rnd.Intn(256))
	}
	sources := make([][]byte, k)
	for s := range sources {
		sources[s] = make([]byte, length)
		rnd.Read(sources[s])
	}
	outputs := make([][]byte, rows)
	for r := range outputs {
		outputs[r] = make([]byte, length)
	}
	encodeData(length, k, rows, genTables(k, rows, coef), sources, outputs)

	for r := 0; r < rows; r++ {
		for j := 0; j < length; j++ {
			var want byte
			for s := 0; s < k; s++ {
				want ^= gfMul(sources[s][j], coef.at(r, s))
			}
			require.Equal(t, want, outputs[r][j], "r=%d j=%d", r, j)
		}
	}
}
