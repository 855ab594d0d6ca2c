package conf

import (
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/lambda-feedback/duet/util/cliflags"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// DefaultConfig holds default values, keyed by their config path.
type DefaultConfig = map[string]any

type ParseOptions struct {
	// Cli is the cli.Context from urfave/cli
	Cli *cli.Context

	// CliMap is a map of cli flag names to config keys
	CliMap map[string]string

	// Defaults is a map of default values
	Defaults DefaultConfig

	// EnvPrefix is the prefix for env vars
	EnvPrefix string

	// FileName is the name of the configuration file to load. Files
	// ending in .json are parsed as json, anything else as key=value
	// pairs.
	FileName string

	// Validate is called with the merged raw config before it is
	// unmarshalled
	Validate func(map[string]any) error

	// Log is the logger to use
	Log *zap.Logger
}

func Parse[C any](opt ParseOptions) (C, error) {

	var log *zap.Logger
	if opt.Log != nil {
		log = opt.Log
	} else {
		log = zap.NewNop()
	}

	k := koanf.New(".")

	if opt.Defaults != nil {
		k.Load(confmap.Provider(opt.Defaults, "."), nil)
	}

	if opt.FileName != "" {
		// an unreadable file is not fatal, the defaults apply
		if err := loadFile(k, opt.FileName); err != nil {
			log.Error("error parsing file",
				zap.Error(err),
				zap.String("file", opt.FileName),
			)
		}
	}

	transformPrefixedEnv := func(s string) string {
		return transformEnv(s, opt.EnvPrefix)
	}

	var config C

	if err := k.Load(env.Provider(opt.EnvPrefix, ".", transformPrefixedEnv), nil); err != nil {
		log.Error("error parsing env vars", zap.Error(err))
		return config, err
	}

	if opt.Cli != nil {
		transformFlag := func(s string) string {
			if opt.CliMap != nil {
				if name, ok := opt.CliMap[s]; ok {
					return name
				}
			}

			// background-command -> backgroundCommand
			return camelCase(strings.ToLower(s), "-")
		}

		if err := k.Load(cliflags.Provider(opt.Cli, ".", transformFlag), nil); err != nil {
			log.Error("error parsing cli flags", zap.Error(err))
			return config, err
		}
	}

	if opt.Validate != nil {
		if err := opt.Validate(k.Raw()); err != nil {
			log.Error("invalid config", zap.Error(err))
			return config, err
		}
	}

	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "conf"}); err != nil {
		log.Error("error unmarshalling config", zap.Error(err))
		return config, err
	}

	return config, nil
}

func loadFile(k *koanf.Koanf, fileName string) error {
	if strings.EqualFold(filepath.Ext(fileName), ".json") {
		return k.Load(file.Provider(fileName), json.Parser())
	}

	// the dotenv parser returns flat keys, load them into a
	// scratch instance and unflatten them on the way over
	flat := koanf.New(".")
	if err := flat.Load(file.Provider(fileName), dotenv.Parser()); err != nil {
		return err
	}

	return k.Load(confmap.Provider(flat.All(), "."), nil)
}

func transformEnv(s, prefix string) string {
	// strip the prefix, which is matched case-sensitively by koanf
	s = strings.TrimPrefix(s, prefix)
	// allow specifying nested env vars w/ __
	parts := strings.Split(s, "__")
	// the top-level key is camel cased
	parts[0] = camelCase(strings.ToLower(parts[0]), "_")
	// intermediate keys are lower cased, the leaf keeps its case so
	// that map keys such as env var names survive
	for i := 1; i < len(parts)-1; i++ {
		parts[i] = strings.ToLower(parts[i])
	}
	// create final string
	return strings.Join(parts, ".")
}

func camelCase(s, sep string) string {
	words := strings.Split(s, sep)

	var b strings.Builder
	for i, word := range words {
		if word == "" {
			continue
		}

		if i > 0 && b.Len() > 0 {
			b.WriteString(strings.ToUpper(word[:1]))
			b.WriteString(word[1:])
		} else {
			b.WriteString(word)
		}
	}

	return b.String()
}
