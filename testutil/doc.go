/*
Package testutil provides testing utilities for the multishot regression
protocol.

It contains generators for run configurations and synthetic participant data
so that tests can focus on protocol logic rather than fixture construction.

# Configuration Generators

Functions for creating customizable RunConfig instances:

	// Create default test config
	config := testutil.NewTestConfig()

	// Create custom config with specific options
	customConfig := testutil.NewTestConfig(
	    testutil.WithROIKeys("left-hippocampus", "right-hippocampus"),
	    testutil.WithExpectedSites(3),
	    testutil.WithTolerance(1e-4),
	)

# Data Generators

Synthetic per-site data with known ground-truth coefficients, so tests can
assert that the distributed fit recovers them:

	truth := map[string]float64{"roi-a": 0.8, "roi-b": -0.3}
	predictors, responses := testutil.SyntheticSiteData(1, config, truth, 50)

The generator is seeded per site, so fixtures are deterministic across runs
while distinct across sites.
*/
package testutil
