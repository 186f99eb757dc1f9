package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/sippy/Sippy-Recorder/internal"
	"github.com/sippy/Sippy-Recorder/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func initConfig() *config.Config {
	return (&config.Config{App: app}).GetDefaults()
}

func loadConfig() {
	newCfg := initConfig()
	newCfg.Load(internal.AppName, flags.config)
	*cfg = *newCfg
}

// dumpConfig prints the configuration value at the dotted path given on the
// command line ('all' for the whole tree) and exits.
func dumpConfig() {
	var v interface{}
	y, _ := yaml.Marshal(cfg)

	if err := yaml.Unmarshal(y, &v); err != nil {
		log.Fatalf("failed to unmarshal config: %s", err)
	}

	if flags.dump != "all" {
		for _, key := range strings.Split(flags.dump, ".") {
			m, ok := v.(map[string]interface{})
			if !ok {
				v = nil
				break
			}
			if v, ok = m[key]; !ok {
				v = nil
				break
			}
		}
	}

	if v == nil {
		os.Exit(1)
	}
	b, _ := yaml.Marshal(v)
	fmt.Print(string(b))
	os.Exit(0)
}
