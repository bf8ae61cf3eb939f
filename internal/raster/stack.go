package raster

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/flate"
)

// Stack file layout: an 8-byte magic, a big-endian uint32 header
// length, the JSON header, then the concatenated deflate-compressed
// tiles the header's tile index points into. One stack holds every
// timestep of one attribute as bands, plus power-of-two overview
// levels for fast zoomed-out reads.
const (
	stackMagic   = "GRSTACK1"
	stackVersion = 1

	// TileSize is the edge length of the internal tiles.
	TileSize = 256
)

type tileRef struct {
	Band    int   `json:"band"`
	TileRow int   `json:"tileRow"`
	TileCol int   `json:"tileCol"`
	Offset  int64 `json:"offset"`
	Length  int64 `json:"length"`
}

type levelInfo struct {
	// Scale is the downsampling factor relative to full resolution.
	Scale int       `json:"scale"`
	Rows  int       `json:"rows"`
	Cols  int       `json:"cols"`
	Tiles []tileRef `json:"tiles"`
}

type stackHeader struct {
	Version      int         `json:"version"`
	Rows         int         `json:"rows"`
	Cols         int         `json:"cols"`
	Bands        int         `json:"bands"`
	Datatype     Datatype    `json:"datatype"`
	NoData       float64     `json:"nodata"`
	Geotransform [6]float64  `json:"geotransform"`
	SRID         int         `json:"srid"`
	CRSWKT       string      `json:"crsWKT"`
	TileSize     int         `json:"tileSize"`
	Timestamps   []string    `json:"timestamps"`
	Levels       []levelInfo `json:"levels"`
}

// WriteStack writes bands (all with identical geometry) as one stacked
// file. Band order is the timestep order; timestamps must parallel
// bands. Samples are narrowed to the declared datatype.
func WriteStack(path string, bands []*Raster, timestamps []string, dt Datatype, crsWKT string) error {
	if len(bands) == 0 {
		return fmt.Errorf("raster: stack needs at least one band")
	}
	if len(timestamps) != len(bands) {
		return fmt.Errorf("raster: %d timestamps for %d bands", len(timestamps), len(bands))
	}
	if _, err := dt.Bytes(); err != nil {
		return err
	}
	base := bands[0]
	for i, b := range bands[1:] {
		if b.Rows != base.Rows || b.Cols != base.Cols {
			return fmt.Errorf("raster: band %d is %dx%d, band 0 is %dx%d",
				i+1, b.Rows, b.Cols, base.Rows, base.Cols)
		}
	}

	header := stackHeader{
		Version:      stackVersion,
		Rows:         base.Rows,
		Cols:         base.Cols,
		Bands:        len(bands),
		Datatype:     dt,
		NoData:       base.NoData,
		Geotransform: base.Geotransform,
		SRID:         base.SRID,
		CRSWKT:       crsWKT,
		TileSize:     TileSize,
		Timestamps:   timestamps,
	}

	var data bytes.Buffer
	levels := bands
	scale := 1
	for {
		rows, cols := levels[0].Rows, levels[0].Cols
		level := levelInfo{Scale: scale, Rows: rows, Cols: cols}
		for bandIdx, b := range levels {
			for tr := 0; tr*TileSize < rows; tr++ {
				for tc := 0; tc*TileSize < cols; tc++ {
					offset := int64(data.Len())
					if err := writeTile(&data, b, tr, tc, dt); err != nil {
						return err
					}
					level.Tiles = append(level.Tiles, tileRef{
						Band:    bandIdx,
						TileRow: tr,
						TileCol: tc,
						Offset:  offset,
						Length:  int64(data.Len()) - offset,
					})
				}
			}
		}
		header.Levels = append(header.Levels, level)

		if rows <= TileSize && cols <= TileSize {
			break
		}
		next := make([]*Raster, len(levels))
		for i, b := range levels {
			next[i] = downsample(b)
		}
		levels = next
		scale *= 2
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("raster: encode stack header: %w", err)
	}

	var out bytes.Buffer
	out.WriteString(stackMagic)
	var hlen [4]byte
	binary.BigEndian.PutUint32(hlen[:], uint32(len(headerJSON)))
	out.Write(hlen[:])
	out.Write(headerJSON)
	out.Write(data.Bytes())

	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("raster: write stack %s: %w", path, err)
	}
	return nil
}

func writeTile(w io.Writer, r *Raster, tileRow, tileCol int, dt Datatype) error {
	rows := min(TileSize, r.Rows-tileRow*TileSize)
	cols := min(TileSize, r.Cols-tileCol*TileSize)

	width, _ := dt.Bytes()
	raw := make([]byte, 0, rows*cols*width)
	for dr := 0; dr < rows; dr++ {
		for dc := 0; dc < cols; dc++ {
			raw = appendSample(raw, r.At(tileRow*TileSize+dr, tileCol*TileSize+dc), dt)
		}
	}

	fw, err := flate.NewWriter(w, flate.DefaultCompression)
	if err != nil {
		return fmt.Errorf("raster: tile compressor: %w", err)
	}
	if _, err := fw.Write(raw); err != nil {
		return fmt.Errorf("raster: compress tile: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("raster: flush tile: %w", err)
	}
	return nil
}

// downsample halves a raster by picking the top-left sample of every
// 2x2 block. Nearest neighbor, like the warp, so overview values stay
// real model outputs.
func downsample(r *Raster) *Raster {
	rows := (r.Rows + 1) / 2
	cols := (r.Cols + 1) / 2
	gt := r.Geotransform
	gt[1] *= 2
	gt[5] *= 2
	out := New(rows, cols, gt, r.SRID, r.NoData)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			out.Set(row, col, r.At(row*2, col*2))
		}
	}
	return out
}

func appendSample(buf []byte, v float64, dt Datatype) []byte {
	switch dt {
	case Byte:
		return append(buf, byte(clamp(v, 0, math.MaxUint8)))
	case Int16:
		return binary.LittleEndian.AppendUint16(buf, uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
	case Int32:
		return binary.LittleEndian.AppendUint32(buf, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	case Float32:
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	default:
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, math.Round(v)))
}

func readSample(buf []byte, dt Datatype) float64 {
	switch dt {
	case Byte:
		return float64(buf[0])
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(buf)))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(buf)))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf))
	}
}

// Stack is an opened stacked raster file.
type Stack struct {
	header stackHeader
	data   []byte
}

// OpenStack reads and validates a stacked raster file.
func OpenStack(path string) (*Stack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("raster: open stack %s: %w", path, err)
	}
	if len(raw) < len(stackMagic)+4 || string(raw[:len(stackMagic)]) != stackMagic {
		return nil, fmt.Errorf("raster: %s is not a stack file", path)
	}
	hlen := binary.BigEndian.Uint32(raw[len(stackMagic) : len(stackMagic)+4])
	headerStart := len(stackMagic) + 4
	if headerStart+int(hlen) > len(raw) {
		return nil, fmt.Errorf("raster: %s is truncated", path)
	}
	var header stackHeader
	if err := json.Unmarshal(raw[headerStart:headerStart+int(hlen)], &header); err != nil {
		return nil, fmt.Errorf("raster: parse stack header of %s: %w", path, err)
	}
	if header.Version != stackVersion {
		return nil, fmt.Errorf("raster: %s has unsupported stack version %d", path, header.Version)
	}
	return &Stack{header: header, data: raw[headerStart+int(hlen):]}, nil
}

func (s *Stack) Bands() int           { return s.header.Bands }
func (s *Stack) Rows() int            { return s.header.Rows }
func (s *Stack) Cols() int            { return s.header.Cols }
func (s *Stack) Datatype() Datatype   { return s.header.Datatype }
func (s *Stack) NoData() float64      { return s.header.NoData }
func (s *Stack) SRID() int            { return s.header.SRID }
func (s *Stack) CRSWKT() string       { return s.header.CRSWKT }
func (s *Stack) Timestamps() []string { return s.header.Timestamps }
func (s *Stack) Levels() int          { return len(s.header.Levels) }

// Band decompresses one full-resolution band.
func (s *Stack) Band(band int) (*Raster, error) {
	return s.BandAtLevel(band, 0)
}

// BandAtLevel decompresses one band of one overview level. Level 0 is
// full resolution; each further level halves both dimensions.
func (s *Stack) BandAtLevel(band, level int) (*Raster, error) {
	if band < 0 || band >= s.header.Bands {
		return nil, fmt.Errorf("raster: band %d out of range, stack has %d", band, s.header.Bands)
	}
	if level < 0 || level >= len(s.header.Levels) {
		return nil, fmt.Errorf("raster: level %d out of range, stack has %d", level, len(s.header.Levels))
	}
	li := s.header.Levels[level]

	gt := s.header.Geotransform
	gt[1] *= float64(li.Scale)
	gt[5] *= float64(li.Scale)
	out := New(li.Rows, li.Cols, gt, s.header.SRID, s.header.NoData)

	width, err := s.header.Datatype.Bytes()
	if err != nil {
		return nil, err
	}
	for _, tile := range li.Tiles {
		if tile.Band != band {
			continue
		}
		if tile.Offset+tile.Length > int64(len(s.data)) {
			return nil, fmt.Errorf("raster: tile %d/%d points past end of file", tile.TileRow, tile.TileCol)
		}
		fr := flate.NewReader(bytes.NewReader(s.data[tile.Offset : tile.Offset+tile.Length]))
		raw, err := io.ReadAll(fr)
		fr.Close()
		if err != nil {
			return nil, fmt.Errorf("raster: decompress tile %d/%d: %w", tile.TileRow, tile.TileCol, err)
		}

		rows := min(TileSize, li.Rows-tile.TileRow*TileSize)
		cols := min(TileSize, li.Cols-tile.TileCol*TileSize)
		if len(raw) != rows*cols*width {
			return nil, fmt.Errorf("raster: tile %d/%d has %d bytes, want %d",
				tile.TileRow, tile.TileCol, len(raw), rows*cols*width)
		}
		for dr := 0; dr < rows; dr++ {
			for dc := 0; dc < cols; dc++ {
				v := readSample(raw[(dr*cols+dc)*width:], s.header.Datatype)
				out.Set(tile.TileRow*TileSize+dr, tile.TileCol*TileSize+dc, v)
			}
		}
	}
	return out, nil
}
