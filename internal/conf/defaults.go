// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "wildlife-reid")
	viper.SetDefault("main.log.default_level", "info")
	viper.SetDefault("main.log.timezone", "Local")
	viper.SetDefault("main.log.console.enabled", true)
	viper.SetDefault("main.log.console.level", "info")
	viper.SetDefault("main.log.file_output.enabled", false)
	viper.SetDefault("main.log.file_output.path", "logs/reid.log")
	viper.SetDefault("main.log.file_output.level", "info")

	viper.SetDefault("detector.modelpath", "models/yolov5_640.tflite")
	viper.SetDefault("detector.labelpath", "models/yolov5_labels.txt")
	viper.SetDefault("detector.inputsize", 640)
	viper.SetDefault("detector.threads", 0)
	viper.SetDefault("detector.usexnnpack", true)
	viper.SetDefault("detector.scorethreshold", 0.25)
	viper.SetDefault("detector.iouthreshold", 0.45)
	viper.SetDefault("detector.maxdetections", 300)
	viper.SetDefault("detector.minscore", 0.0)
	viper.SetDefault("detector.counter.threshold", 0.75)
	viper.SetDefault("detector.counter.label", "elephant")

	viper.SetDefault("embedding.modelpath", "models/resnet18_simclr.tflite")
	viper.SetDefault("embedding.inputsize", 224)
	viper.SetDefault("embedding.threads", 0)
	viper.SetDefault("embedding.usexnnpack", true)
	viper.SetDefault("embedding.backboneprefix", "all_animal_recognition/train/")
	viper.SetDefault("embedding.samplebatch", 128)

	viper.SetDefault("classifier.modelsdir", "models")
	viper.SetDefault("classifier.folds", 5)
	viper.SetDefault("classifier.seed", 1)
	viper.SetDefault("classifier.cachettl", 30*time.Minute)
	viper.SetDefault("classifier.trainingprefixes", map[string]string{
		"hyena":   "hyena.coco/processed/train/",
		"leopard": "leopard.coco/processed/train/",
		"giraffe": "great_zebra_giraffe/individual_recognition/train/",
	})

	viper.SetDefault("storage.backend", "local")
	viper.SetDefault("storage.local.path", "data/blobs")
	viper.SetDefault("storage.sftp.port", 22)
	viper.SetDefault("storage.sftp.basepath", "/reid")
	viper.SetDefault("storage.sftp.timeout", 30*time.Second)
	viper.SetDefault("storage.ftp.port", 21)
	viper.SetDefault("storage.ftp.basepath", "/reid")
	viper.SetDefault("storage.ftp.timeout", 30*time.Second)
	viper.SetDefault("storage.ftp.maxconnections", 4)
	viper.SetDefault("storage.inputsprefix", "website-data/inputs")
	viper.SetDefault("storage.outputsprefix", "website-data/outputs")
	viper.SetDefault("storage.jpegquality", 90)
	viper.SetDefault("storage.maxretries", 3)

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.sqlite.path", "data/reid.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", 3306)
	viper.SetDefault("database.mysql.database", "reid")
	viper.SetDefault("database.slowthreshold", 200*time.Millisecond)

	viper.SetDefault("retrain.workers", 1)
	viper.SetDefault("retrain.queuesize", 16)
	viper.SetDefault("retrain.jobtimeout", 2*time.Hour)
	viper.SetDefault("retrain.heartbeatinterval", 10*time.Second)
	viper.SetDefault("retrain.staletimeout", 5*time.Minute)
	viper.SetDefault("retrain.lockdir", "data/locks")
	viper.SetDefault("retrain.pollinterval", 5*time.Second)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":8080")

	viper.SetDefault("telemetry.sentry.enabled", false)
	viper.SetDefault("telemetry.prometheus.enabled", true)
}
