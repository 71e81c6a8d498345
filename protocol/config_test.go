package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MRN-Code/multishot/privacy"
)

func validConfig() *RunConfig {
	return &RunConfig{
		ROIs: []privacy.ROI{
			{Key: "roi-a", Min: 0, Max: 1},
			{Key: "roi-b", Min: 0, Max: 1},
		},
		ExpectedSites:       2,
		InitialLearningRate: 1e-3,
		Tolerance:           1e-5,
		MaxIterations:       100,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*RunConfig){
		"empty ROIs":      func(c *RunConfig) { c.ROIs = nil },
		"empty key":       func(c *RunConfig) { c.ROIs[1].Key = "" },
		"duplicate key":   func(c *RunConfig) { c.ROIs[1].Key = "roi-a" },
		"zero sites":      func(c *RunConfig) { c.ExpectedSites = 0 },
		"zero rate":       func(c *RunConfig) { c.InitialLearningRate = 0 },
		"negative rate":   func(c *RunConfig) { c.InitialLearningRate = -1 },
		"zero tolerance":  func(c *RunConfig) { c.Tolerance = 0 },
		"zero iterations": func(c *RunConfig) { c.MaxIterations = 0 },
		"negative lambda": func(c *RunConfig) { c.Lambda = -0.1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var confErr *ConfigurationError
			require.ErrorAs(t, err, &confErr)
		})
	}
}

func TestConfigKeys(t *testing.T) {
	require.Equal(t, []string{"roi-a", "roi-b"}, validConfig().Keys())
}
