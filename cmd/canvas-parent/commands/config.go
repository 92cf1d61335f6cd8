package commands

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/peterfisher/canvas-parent/lib/configutil"
	"github.com/peterfisher/canvas-parent/lib/serviceutil"
	"github.com/peterfisher/canvas-parent/lib/sqliteutil"
	"github.com/peterfisher/canvas-parent/lib/timezone"
	"github.com/peterfisher/canvas-parent/services/grades"
	gradesdb "github.com/peterfisher/canvas-parent/services/grades/db"
	"github.com/peterfisher/canvas-parent/services/notify"
	"github.com/peterfisher/canvas-parent/services/site"

	"github.com/joho/godotenv"
)

type CanvasConfig struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type SiteConfig struct {
	OutputDir string             `json:"output_dir"`
	BaseUrl   string             `json:"base_url"`
	Sftp      site.PublishConfig `json:"sftp"`
}

type WatchConfig struct {
	// hours of the day (0-23) on which the watch loop syncs
	Hours []int `json:"hours"`
}

type Config struct {
	Canvas CanvasConfig `json:"canvas"`
	// the name grades are recorded under
	Student  string            `json:"student"`
	Database sqliteutil.Config `json:"database"`
	// path of the page cache database
	Cache  string         `json:"cache"`
	Site   SiteConfig     `json:"site"`
	Notify notify.Options `json:"notify"`
	Watch  WatchConfig    `json:"watch"`
	// IANA timezone name the portal's dates are interpreted in
	Timezone string `json:"timezone"`
}

func loadConfig() (Config, error) {
	// credentials can live in a .env file instead of the config
	_ = godotenv.Load()

	cfg, err := configutil.ReadConfig[Config](*configFile)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", *configFile, err)
	}

	if v := os.Getenv("CANVAS_USERNAME"); v != "" {
		cfg.Canvas.Username = v
	}
	if v := os.Getenv("CANVAS_PASSWORD"); v != "" {
		cfg.Canvas.Password = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Notify.Smtp.Password = v
	}

	if cfg.Timezone != "" {
		err = timezone.Set(cfg.Timezone)
		if err != nil {
			return Config{}, err
		}
	}

	if cfg.Database.File == "" && cfg.Database.Url == "" {
		cfg.Database.File = "canvas.db"
	}
	if cfg.Cache == "" {
		cfg.Cache = "cache.db"
	}
	if cfg.Site.OutputDir == "" {
		cfg.Site.OutputDir = "website"
	}
	if cfg.Notify.SiteUrl == "" {
		cfg.Notify.SiteUrl = cfg.Site.BaseUrl
	}
	return cfg, nil
}

func mustLoadConfig() Config {
	cfg, err := loadConfig()
	if err != nil {
		serviceutil.Fatal("failed to load configuration", err)
	}
	return cfg
}

func (c Config) requireCredentials() {
	if c.Canvas.BaseUrl == "" || c.Canvas.Username == "" || c.Canvas.Password == "" {
		serviceutil.Fatal("incomplete configuration",
			fmt.Errorf("canvas.base_url, canvas.username and canvas.password are all required"))
	}
	if c.Student == "" {
		serviceutil.Fatal("incomplete configuration", fmt.Errorf("a student name is required"))
	}
}

func openStore(cfg Config) (grades.Store, *sql.DB) {
	database, err := cfg.Database.OpenDB(gradesdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}
	return grades.NewStore(database), database
}
