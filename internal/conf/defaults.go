// conf/defaults.go default values for settings
package conf

import "github.com/spf13/viper"

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "BioGate")
	viper.SetDefault("main.datadir", ".")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "log/biogate.log")
	viper.SetDefault("main.log.maxsizemb", 10)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	viper.SetDefault("database.path", "biogate.db")

	viper.SetDefault("augment.lowsim", 0.85)
	viper.SetDefault("augment.highsim", 0.99)
	viper.SetDefault("augment.naug", 5)
	viper.SetDefault("augment.maxtries", 15)
	viper.SetDefault("augment.maxperuser", 25)
	viper.SetDefault("augment.fallbackkeep", 2)

	viper.SetDefault("calibration.valperuser", 2)
	viper.SetDefault("calibration.classthresholdcap", 0.95)
	viper.SetDefault("calibration.seed", 42)

	viper.SetDefault("voice.samplerate", 16000)
	viper.SetDefault("voice.dimension", 256)
	viper.SetDefault("voice.requiredspeech", 5.0)
	viper.SetDefault("voice.minsegmentms", 300)
	viper.SetDefault("voice.blockms", 30)
	viper.SetDefault("voice.defaultmargin", 0.20)

	viper.SetDefault("face.dimension", 128)
	viper.SetDefault("face.outputsize", 160)
	viper.SetDefault("face.marginfrac", 0.2)
	viper.SetDefault("face.requiredstable", 5)
	viper.SetDefault("face.postol", 20)
	viper.SetDefault("face.sizetol", 20)
	viper.SetDefault("face.pollhz", 30)
	viper.SetDefault("face.framescale", 0.25)
}
