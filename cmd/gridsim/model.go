package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mvreeden/gridsim/internal/config"
	"github.com/mvreeden/gridsim/internal/db"
	"github.com/mvreeden/gridsim/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage registered simulation models",
	}
	cmd.AddCommand(newModelRegisterCmd())
	cmd.AddCommand(newModelListCmd())
	return cmd
}

// modelDefinition is the YAML shape of a model registration file.
type modelDefinition struct {
	Name           string         `yaml:"name"`
	Abstract       string         `yaml:"abstract"`
	Discretization string         `yaml:"discretization"`
	MaxChunks      int            `yaml:"max_chunks"`
	Parameters     map[string]any `yaml:"parameters"`
	Time           map[string]any `yaml:"time"`
	Reporting      map[string]any `yaml:"reporting"`
	// Script is the path to the model script, relative to the definition
	// file's working directory.
	Script string `yaml:"script"`
}

func newModelRegisterCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "register <model.yaml>",
		Short: "Register a simulation model or update an existing one",
		Long:  "Reads a model definition (declared parameters, time section, reporting whitelist, script path) and stores it. Re-registering an existing name with changed content bumps the model version, which changes every configuration key derived from it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelRegister(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gridsim.yaml", "path to gridsim config file")
	return cmd
}

func runModelRegister(cmd *cobra.Command, configPath, defPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := gormDB.AutoMigrate(db.AllModels()...); err != nil {
		return fmt.Errorf("model: migrate schema: %w", err)
	}

	def, script, err := loadModelDefinition(defPath)
	if err != nil {
		return err
	}

	var disc models.Discretization
	if err := gormDB.Where("name = ?", def.Discretization).First(&disc).Error; err != nil {
		return fmt.Errorf("model: discretization %q is not known: %w", def.Discretization, err)
	}

	paramsJSON, err := json.Marshal(def.Parameters)
	if err != nil {
		return fmt.Errorf("model: encode parameters: %w", err)
	}
	timeJSON, err := json.Marshal(def.Time)
	if err != nil {
		return fmt.Errorf("model: encode time section: %w", err)
	}
	reportingJSON, err := json.Marshal(def.Reporting)
	if err != nil {
		return fmt.Errorf("model: encode reporting section: %w", err)
	}

	out := cmd.OutOrStdout()
	var existing models.SimModel
	err = gormDB.Where("name = ?", def.Name).First(&existing).Error
	switch {
	case err == nil:
		changed := existing.Script != script ||
			existing.ParametersJSON != string(paramsJSON) ||
			existing.TimeJSON != string(timeJSON) ||
			existing.ReportingJSON != string(reportingJSON)

		existing.Abstract = def.Abstract
		existing.DiscretizationName = def.Discretization
		existing.MaxChunks = def.MaxChunks
		existing.ParametersJSON = string(paramsJSON)
		existing.TimeJSON = string(timeJSON)
		existing.ReportingJSON = string(reportingJSON)
		existing.Script = script
		if changed {
			existing.Version++
		}
		if err := gormDB.Save(&existing).Error; err != nil {
			return fmt.Errorf("model: update %q: %w", def.Name, err)
		}
		fmt.Fprintf(out, "Updated model %q (version %d)\n", existing.Name, existing.Version)
	case errors.Is(err, gorm.ErrRecordNotFound):
		model := models.SimModel{
			Name:               def.Name,
			Abstract:           def.Abstract,
			Version:            1,
			DiscretizationName: def.Discretization,
			MaxChunks:          def.MaxChunks,
			ParametersJSON:     string(paramsJSON),
			TimeJSON:           string(timeJSON),
			ReportingJSON:      string(reportingJSON),
			Script:             script,
		}
		if err := gormDB.Create(&model).Error; err != nil {
			return fmt.Errorf("model: register %q: %w", def.Name, err)
		}
		fmt.Fprintf(out, "Registered model %q (version 1)\n", model.Name)
	default:
		return fmt.Errorf("model: look up %q: %w", def.Name, err)
	}
	return nil
}

func loadModelDefinition(path string) (*modelDefinition, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("model: read %s: %w", path, err)
	}
	var def modelDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, "", fmt.Errorf("model: parse %s: %w", path, err)
	}
	if def.Name == "" {
		return nil, "", fmt.Errorf("model: %s has no name", path)
	}
	if def.Discretization == "" {
		return nil, "", fmt.Errorf("model: %s names no discretization", path)
	}
	if len(def.Reporting) == 0 {
		return nil, "", fmt.Errorf("model: %s declares no reporting attributes", path)
	}
	if def.MaxChunks <= 0 {
		def.MaxChunks = 1
	}

	script, err := os.ReadFile(def.Script)
	if err != nil {
		return nil, "", fmt.Errorf("model: read script %s: %w", def.Script, err)
	}
	return &def, string(script), nil
}

func newModelListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gormDB, err := db.Connect(cfg.Database)
			if err != nil {
				return err
			}
			var list []models.SimModel
			if err := gormDB.Order("name").Find(&list).Error; err != nil {
				return fmt.Errorf("model: list: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, m := range list {
				fmt.Fprintf(out, "%s v%d (%s, max %d chunks)\n", m.Name, m.Version, m.DiscretizationName, m.MaxChunks)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gridsim.yaml", "path to gridsim config file")
	return cmd
}
