package filters

import (
	"fmt"

	"github.com/wudi/layersplit/ir/raw"
)

func intParam(params *raw.DictObj, key string, def int) int {
	if params == nil {
		return def
	}
	if v, ok := params.GetInt(key); ok {
		return int(v)
	}
	return def
}

// applyPredictor undoes /Predictor 2 (TIFF) and 10-15 (PNG). Predictor 1 or
// no parameters leave the data untouched.
func applyPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	switch {
	case predictor == 1:
		return data, nil
	case predictor == 2:
		return tiffPredictor(data, params)
	case predictor >= 10 && predictor <= 15:
		return pngPredictor(data, params)
	}
	return nil, fmt.Errorf("unsupported predictor: %d", predictor)
}

func predictorGeometry(params *raw.DictObj) (rowBytes, bpp int, err error) {
	columns := intParam(params, "Columns", 1)
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	if columns <= 0 || colors <= 0 || bpc <= 0 {
		return 0, 0, fmt.Errorf("invalid predictor geometry: columns=%d colors=%d bpc=%d", columns, colors, bpc)
	}
	rowBytes = (columns*colors*bpc + 7) / 8
	bpp = (colors*bpc + 7) / 8
	return rowBytes, bpp, nil
}

func tiffPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	if bpc := intParam(params, "BitsPerComponent", 8); bpc != 8 {
		return nil, fmt.Errorf("TIFF predictor only supports 8 bits per component, got %d", bpc)
	}
	rowBytes, bpp, err := predictorGeometry(params)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	for row := 0; row+rowBytes <= len(out); row += rowBytes {
		for i := bpp; i < rowBytes; i++ {
			out[row+i] += out[row+i-bpp]
		}
	}
	return out, nil
}

// pngPredictor decodes rows that each carry a leading PNG filter type byte.
// A trailing partial row is dropped.
func pngPredictor(data []byte, params *raw.DictObj) ([]byte, error) {
	rowBytes, bpp, err := predictorGeometry(params)
	if err != nil {
		return nil, err
	}
	stride := rowBytes + 1
	rows := len(data) / stride
	out := make([]byte, rows*rowBytes)
	prev := make([]byte, rowBytes)
	for r := 0; r < rows; r++ {
		src := data[r*stride+1 : (r+1)*stride]
		cur := out[r*rowBytes : (r+1)*rowBytes]
		ft := data[r*stride]
		for i := 0; i < rowBytes; i++ {
			var left, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch ft {
			case 0:
				cur[i] = src[i]
			case 1:
				cur[i] = src[i] + left
			case 2:
				cur[i] = src[i] + up
			case 3:
				cur[i] = src[i] + byte((int(left)+int(up))/2)
			case 4:
				cur[i] = src[i] + paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("unknown PNG filter type %d in row %d", ft, r)
			}
		}
		prev = cur
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
