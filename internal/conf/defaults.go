package conf

import (
	"time"

	"github.com/spf13/viper"
)

// blocksPerSecond sizes derived blocks so one block spans 1/12 s
const blocksPerSecond = 12

// DefaultDeviceID is the amplifier serial used when none is configured
const DefaultDeviceID = "UB-2015.05.16"

// setDefaultConfig registers viper defaults for every configuration key
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "biosig")
	viper.SetDefault("main.timezone", "Local")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/biosig.log")
	viper.SetDefault("logging.file_output.level", "debug")

	viper.SetDefault("acquisition.source", SourceSynthetic)
	viper.SetDefault("acquisition.deviceids", []string{DefaultDeviceID})
	viper.SetDefault("acquisition.channels", defaultChannels())
	viper.SetDefault("acquisition.samplerate", 1200)
	viper.SetDefault("acquisition.samplesperblock", 0)
	viper.SetDefault("acquisition.buffercapacity", 8)
	viper.SetDefault("acquisition.scalefactor", 1e-6)
	viper.SetDefault("acquisition.highpass", 0.001)
	viper.SetDefault("acquisition.synthetic.frequency", 10.0)
	viper.SetDefault("acquisition.synthetic.amplitude", 50.0)
	viper.SetDefault("acquisition.synthetic.noise", 5.0)
	viper.SetDefault("acquisition.synthetic.failafter", 0)
	viper.SetDefault("acquisition.synthetic.failopen", false)

	viper.SetDefault("recording.enabled", false)
	viper.SetDefault("recording.directory", "data")
	viper.SetDefault("recording.sequence", "Sequence_01")
	viper.SetDefault("recording.subject", "Subject_01")
	viper.SetDefault("recording.splitms", 600000)
	viper.SetDefault("recording.calibration", 0.001)
	viper.SetDefault("recording.minfreemb", 100)

	viper.SetDefault("sink.history", 32)
	viper.SetDefault("sink.mqtt.enabled", false)
	viper.SetDefault("sink.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("sink.mqtt.topic", "biosig/blocks")
	viper.SetDefault("sink.mqtt.clientid", "")
	viper.SetDefault("sink.mqtt.qos", 0)
	viper.SetDefault("sink.mqtt.retain", false)

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "127.0.0.1:8090")

	viper.SetDefault("hello.enabled", false)
	viper.SetDefault("hello.listen", ":4217")
	viper.SetDefault("hello.greeting", "biosig acquisition server")

	viper.SetDefault("catalog.enabled", true)
	viper.SetDefault("catalog.type", "sqlite")
	viper.SetDefault("catalog.path", "data/catalog.db")
	viper.SetDefault("catalog.dsn", "")

	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.target", "local")
	viper.SetDefault("archive.directory", "archive")
	viper.SetDefault("archive.port", 0)
	viper.SetDefault("archive.remotepath", "biosig")
	viper.SetDefault("archive.queuesize", 64)
	viper.SetDefault("archive.timeout", 30*time.Second)

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")

	viper.SetDefault("export.physicalmin", -3200.0)
	viper.SetDefault("export.physicalmax", 3200.0)
}

// defaultChannels selects amplifier channels 1..16
func defaultChannels() []int {
	channels := make([]int, 16)
	for i := range channels {
		channels[i] = i + 1
	}
	return channels
}
