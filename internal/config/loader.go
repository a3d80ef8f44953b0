package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/glint/internal/glint"
)

// YAMLParams mirrors glint.Params. Every field is optional; absent fields keep
// their default.
type YAMLParams struct {
	Scale      *int     `yaml:"scale"`
	PupilRatio *float64 `yaml:"pupil_ratio"`

	CLAHE *struct {
		ClipLimit *float64 `yaml:"clip_limit"`
		TileGrid  *int     `yaml:"tile_grid"`
	} `yaml:"clahe"`
	Gain       *float64 `yaml:"gain"`
	Offset     *float64 `yaml:"offset"`
	BlurKernel *int     `yaml:"blur_kernel"`

	Threshold *struct {
		BlockSize *int     `yaml:"block_size"`
		Bias      *float64 `yaml:"bias"`
	} `yaml:"threshold"`
	OpenKernel *int `yaml:"open_kernel"`

	Candidates *struct {
		MinArea          *int     `yaml:"min_area"`
		MaxArea          *int     `yaml:"max_area"`
		MaxDistanceRatio *float64 `yaml:"max_distance_ratio"`
		MaxGlints        *int     `yaml:"max_glints"`
	} `yaml:"candidates"`

	MarkRadius *int `yaml:"mark_radius"`
}

// LoadParams reads a YAML parameter file. An empty path yields the defaults.
func LoadParams(path string) (glint.Params, error) {
	if path == "" {
		return glint.DefaultParams(), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return glint.Params{}, &OpError{
			Op:   "config.load_params",
			Kind: KindNotFound,
			Path: path,
			Err:  err,
		}
	}

	p, err := parseParams(b)
	if err != nil {
		return glint.Params{}, &OpError{
			Op:   "config.load_params",
			Kind: KindInvalidConfig,
			Path: path,
			Err:  err,
		}
	}
	return p, nil
}

func parseParams(b []byte) (glint.Params, error) {
	var dto YAMLParams
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&dto); err != nil && !errors.Is(err, io.EOF) {
		return glint.Params{}, err
	}

	p := MapParams(dto)
	if err := p.Validate(); err != nil {
		return glint.Params{}, err
	}
	return p, nil
}

// MapParams overlays the fields set in dto on top of glint.DefaultParams.
func MapParams(dto YAMLParams) glint.Params {
	p := glint.DefaultParams()

	set(&p.Scale, dto.Scale)
	set(&p.PupilRatio, dto.PupilRatio)
	if c := dto.CLAHE; c != nil {
		set(&p.CLAHEClipLimit, c.ClipLimit)
		set(&p.CLAHETileGrid, c.TileGrid)
	}
	set(&p.Gain, dto.Gain)
	set(&p.Offset, dto.Offset)
	set(&p.BlurKernel, dto.BlurKernel)
	if t := dto.Threshold; t != nil {
		set(&p.ThresholdBlockSize, t.BlockSize)
		set(&p.ThresholdBias, t.Bias)
	}
	set(&p.OpenKernel, dto.OpenKernel)
	if c := dto.Candidates; c != nil {
		set(&p.MinArea, c.MinArea)
		set(&p.MaxArea, c.MaxArea)
		set(&p.MaxDistanceRatio, c.MaxDistanceRatio)
		set(&p.MaxGlints, c.MaxGlints)
	}
	set(&p.MarkRadius, dto.MarkRadius)
	return p
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
