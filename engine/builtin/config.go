package builtin

import (
	goutils "go.viam.com/utils"

	"go.viam.com/fusion/rimage/transform"
)

const (
	defaultVolumeSize        = 3.0
	defaultResolution        = 128
	defaultMaxVoxels         = 1 << 21
	defaultIntegrationStride = 2
	defaultMinValidFraction  = 0.01
	maxSplatRadius           = 8
)

// Config are the attributes of the builtin engine.
type Config struct {
	// VolumeSize is the edge length in meters of the cubic volume.
	VolumeSize float64 `json:"volume_size_m,omitempty"`
	// Resolution is the number of voxels along each edge.
	Resolution int `json:"resolution,omitempty"`
	// MaxVoxels bounds the number of occupied voxels. Exceeding it is an out of memory failure.
	MaxVoxels         int     `json:"max_voxels,omitempty"`
	IntegrationStride int     `json:"integration_stride,omitempty"`
	MinValidFraction  float64 `json:"min_valid_fraction,omitempty"`

	// Intrinsics of the depth stream, taken from the source.
	Intrinsics *transform.PinholeCameraIntrinsics `json:"-"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) ([]string, error) {
	if conf.Intrinsics == nil {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "intrinsics")
	}
	if err := conf.Intrinsics.CheckValid(); err != nil {
		return nil, goutils.NewConfigValidationError(path, err)
	}
	return nil, conf.ValidateVolume(path)
}

// ValidateVolume checks the volume attributes only, for configs read before the source is known.
func (conf *Config) ValidateVolume(path string) error {
	if conf.VolumeSize < 0 {
		return goutils.NewConfigValidationError(path, errInvalid("volume_size_m", conf.VolumeSize))
	}
	if conf.Resolution < 0 || conf.MaxVoxels < 0 || conf.IntegrationStride < 0 {
		return goutils.NewConfigValidationError(path, errInvalid("resolution, max_voxels and integration_stride", "a negative value"))
	}
	if conf.MinValidFraction < 0 || conf.MinValidFraction > 1 {
		return goutils.NewConfigValidationError(path, errInvalid("min_valid_fraction", conf.MinValidFraction))
	}
	return nil
}

func (conf Config) withDefaults() Config {
	if conf.VolumeSize == 0 {
		conf.VolumeSize = defaultVolumeSize
	}
	if conf.Resolution == 0 {
		conf.Resolution = defaultResolution
	}
	if conf.MaxVoxels == 0 {
		conf.MaxVoxels = defaultMaxVoxels
	}
	if conf.IntegrationStride == 0 {
		conf.IntegrationStride = defaultIntegrationStride
	}
	if conf.MinValidFraction == 0 {
		conf.MinValidFraction = defaultMinValidFraction
	}
	return conf
}
