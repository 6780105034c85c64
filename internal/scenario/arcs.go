package scenario

import "slicesim/internal/telemetry"

// BuiltIn returns predefined traffic scenarios.
func BuiltIn() map[string]Scenario {
	return map[string]Scenario{
		"stadium-surge": {
			Name:        "Stadium Surge",
			Description: "Steady city background load while a stadium crowd bursts onto the network.",
			Runs: []Run{
				{SimulationConfig: telemetry.SimulationConfig{TrafficVolume: 20000, Duration: 60, Pattern: telemetry.PatternConstant, Interval: 1}},
				{SimulationConfig: telemetry.SimulationConfig{TrafficVolume: 60000, Duration: 30, Pattern: telemetry.PatternBurst, Interval: 1}, StartAfter: 15},
			},
		},
		"diurnal": {
			Name:        "Diurnal",
			Description: "A compressed day of traffic rising and falling in waves.",
			Runs: []Run{
				{SimulationConfig: telemetry.SimulationConfig{TrafficVolume: 100000, Duration: 120, Pattern: telemetry.PatternWave, Interval: 2}},
			},
		},
		"iot-flood": {
			Name:        "IoT Flood",
			Description: "Sensor fleets report at once on top of a quiet baseline.",
			Runs: []Run{
				{SimulationConfig: telemetry.SimulationConfig{TrafficVolume: 5000, Duration: 60, Pattern: telemetry.PatternConstant, Interval: 1}},
				{SimulationConfig: telemetry.SimulationConfig{TrafficVolume: 200000, Duration: 20, Pattern: telemetry.PatternBurst, Interval: 0.5}, StartAfter: 10},
			},
		},
	}
}
