package ec

// GF(2^8) arithmetic over the standard ISA-L reduction polynomial (0x11d).
// gfLog/gfExp give O(1) multiplication via log tables, and
// genTables/encodeData follow the Intel ISA-L table-driven encode scheme
// (ec_init_tables / ec_encode_data).

const gfFieldSize = 256

var gfExp [2 * gfFieldSize]byte
var gfLog [gfFieldSize]byte

func init() {
	const poly = 0x11d
	x := 1
	for i := 0; i < gfFieldSize-1; i++ {
		gfExp[i] = byte(x)
		gfLog[x] = byte(i)
		x <<= 1
		if x&0x100 != 0 {
			x ^= poly
		}
	}
	for i := gfFieldSize - 1; i < len(gfExp); i++ {
		gfExp[i] = gfExp[i-(gfFieldSize-1)]
	}
}

// gfMul multiplies two GF(2^8) elements.
func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[int(gfLog[a])+int(gfLog[b])]
}

// gfInv returns the multiplicative inverse of a non-zero element.
func gfInv(a byte) byte {
	if a == 0 {
		panic("ec: gfInv of zero")
	}
	return gfExp[gfFieldSize-1-int(gfLog[a])]
}

// matrix is a row-major byte matrix over GF(2^8).
type matrix struct {
	rows, cols int
	data       []byte
}

func newMatrix(rows, cols int) matrix {
	return matrix{rows: rows, cols: cols, data: make([]byte, rows*cols)}
}

func (m matrix) at(r, c int) byte      { return m.data[r*m.cols+c] }
func (m matrix) set(r, c int, v byte)  { m.data[r*m.cols+c] = v }
func (m matrix) row(r int) []byte      { return m.data[r*m.cols : (r+1)*m.cols] }

// genRSMatrix returns the m x k Cauchy-style generator matrix used by
// Reed-Solomon: the top k x k block is the identity, so source blocks pass
// through encode_stripe unchanged, and the bottom p x k block is a Cauchy
// matrix guaranteeing any k of the m rows are linearly independent.
func genRSMatrix(k, p int) matrix {
	m := k + p
	g := newMatrix(m, k)
	for c := 0; c < k; c++ {
		g.set(c, c, 1)
	}
	for r := 0; r < p; r++ {
		for c := 0; c < k; c++ {
			// Cauchy entry 1/(x_r + y_c) with x_r, y_c chosen so that no
			// denominator is zero and all rows stay distinct: x_r = k+r,
			// y_c = c, combined with GF addition (XOR).
			x := byte(k + r)
			y := byte(c)
			denom := x ^ y
			g.set(k+r, c, gfInv(denom))
		}
	}
	return g
}

// invertMatrix inverts a square byte matrix over GF(2^8) via Gauss-Jordan
// elimination with an augmented identity, returning an error if singular.
func invertMatrix(in matrix) (matrix, error) {
	if in.rows != in.cols {
		return matrix{}, errInvalidShape
	}
	n := in.rows
	aug := newMatrix(n, 2*n)
	for r := 0; r < n; r++ {
		copy(aug.row(r)[:n], in.row(r))
		aug.set(r, n+r, 1)
	}
	for col := 0; col < n; col++ {
		pivot := -1
		for r := col; r < n; r++ {
			if aug.at(r, col) != 0 {
				pivot = r
				break
			}
		}
		if pivot == -1 {
			return matrix{}, errSingular
		}
		if pivot != col {
			swapRows(aug, pivot, col)
		}
		inv := gfInv(aug.at(col, col))
		scaleRow(aug, col, inv)
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug.at(r, col)
			if factor == 0 {
				continue
			}
			axpyRow(aug, r, col, factor)
		}
	}
	out := newMatrix(n, n)
	for r := 0; r < n; r++ {
		copy(out.row(r), aug.row(r)[n:])
	}
	return out, nil
}

func swapRows(m matrix, a, b int) {
	ra, rb := m.row(a), m.row(b)
	for i := range ra {
		ra[i], rb[i] = rb[i], ra[i]
	}
}

func scaleRow(m matrix, r int, factor byte) {
	row := m.row(r)
	for i := range row {
		row[i] = gfMul(row[i], factor)
	}
}

// axpyRow subtracts (XORs, in GF(2^8) addition) factor*src row into dst row.
func axpyRow(m matrix, dst, src int, factor byte) {
	d, s := m.row(dst), m.row(src)
	for i := range d {
		d[i] ^= gfMul(s[i], factor)
	}
}

// genTables expands a k-column coefficient matrix (rows rows) into a
// per-(row,input) 256-entry multiplication table, mirroring ISA-L's
// ec_init_tables so encodeData can do table lookups instead of gfMul calls
// on the hot path.
func genTables(k, rows int, coef matrix) [][]byte {
	tables := make([][]byte, rows*k)
	for r := 0; r < rows; r++ {
		for s := 0; s < k; s++ {
			t := make([]byte, gfFieldSize)
			c := coef.at(r, s)
			for v := 0; v < gfFieldSize; v++ {
				t[v] = gfMul(byte(v), c)
			}
			tables[r*k+s] = t
		}
	}
	return tables
}

// encodeData computes outputs[r][j] = XOR_s tables[r*k+s][sources[s][j]]
// for all j < length, i.e. each output row is the coded combination of the
// k source rows under the table-driven coefficients from genTables.
func encodeData(length, k, rows int, tables [][]byte, sources [][]byte, outputs [][]byte) {
	for r := 0; r < rows; r++ {
		out := outputs[r]
		for j := 0; j < length; j++ {
			out[j] = 0
		}
		for s := 0; s < k; s++ {
			t := tables[r*k+s]
			src := sources[s]
			for j := 0; j < length; j++ {
				out[j] ^= t[src[j]]
			}
		}
	}
}
