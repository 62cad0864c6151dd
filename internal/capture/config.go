// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package capture

import "time"

// Config parameterizes the capture client.
type Config struct {
	// Endpoint is the base URL of the ingest service.
	Endpoint string `mapstructure:"endpoint"`
	// SourceDir holds the images the development frame source cycles through.
	SourceDir string `mapstructure:"source_dir"`
	// Interval is the sampling cadence.
	Interval time.Duration `mapstructure:"interval"`
	// MaxDimension caps the longest side of a transmitted frame; zero keeps
	// the source resolution.
	MaxDimension int `mapstructure:"max_dimension"`
	// Quality is the JPEG encode quality, 1-100; zero uses the default.
	Quality       int    `mapstructure:"quality"`
	CorrelationID string `mapstructure:"correlation_id"`
}

// DefaultConfig samples one frame per second at vision-model-friendly size.
func DefaultConfig() Config {
	return Config{
		Endpoint:     "http://localhost:8080",
		Interval:     time.Second,
		MaxDimension: 1280,
		Quality:      80,
	}
}
