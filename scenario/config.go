package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config selects a scenario and sets its parameters. Sections of scenarios
// that are not selected are ignored.
type Config struct {
	Scenario string  `yaml:"scenario"`
	Seed     uint64  `yaml:"seed"`
	Until    float64 `yaml:"until"`

	Bank        BankConfig        `yaml:"bank"`
	Carwash     CarwashConfig     `yaml:"carwash"`
	MachineShop MachineShopConfig `yaml:"machine_shop"`
}

// BankConfig configures the bank scenario. Times are in minutes.
type BankConfig struct {
	Customers       int     `yaml:"customers"`
	Counters        int     `yaml:"counters"`
	ArrivalInterval float64 `yaml:"arrival_interval"`
	ServiceTime     float64 `yaml:"service_time"`
	MinPatience     float64 `yaml:"min_patience"`
	MaxPatience     float64 `yaml:"max_patience"`
}

// CarwashConfig configures the carwash scenario. Times are in minutes.
type CarwashConfig struct {
	Machines        int     `yaml:"machines"`
	WashTime        float64 `yaml:"wash_time"`
	InitialCars     int     `yaml:"initial_cars"`
	ArrivalInterval float64 `yaml:"arrival_interval"`
	ArrivalSpread   float64 `yaml:"arrival_spread"`
	DryBuffer       int     `yaml:"dry_buffer"`
	DryTime         float64 `yaml:"dry_time"`
}

// MachineShopConfig configures the machine shop scenario. Times are in
// minutes.
type MachineShopConfig struct {
	Machines      int     `yaml:"machines"`
	PartTimeMean  float64 `yaml:"part_time_mean"`
	PartTimeSigma float64 `yaml:"part_time_sigma"`
	MTTF          float64 `yaml:"mttf"`
	RepairTime    float64 `yaml:"repair_time"`
	JobDuration   float64 `yaml:"job_duration"`
}

// DefaultConfig returns the configuration of a scenario with every section
// set to its defaults.
func DefaultConfig(name string) *Config {
	return &Config{
		Scenario: name,
		Seed:     42,
		Bank: BankConfig{
			Customers:       10,
			Counters:        1,
			ArrivalInterval: 10,
			ServiceTime:     12,
			MinPatience:     1,
			MaxPatience:     3,
		},
		Carwash: CarwashConfig{
			Machines:        2,
			WashTime:        5,
			InitialCars:     4,
			ArrivalInterval: 7,
			ArrivalSpread:   2,
			DryBuffer:       2,
			DryTime:         3,
		},
		MachineShop: MachineShopConfig{
			Machines:      10,
			PartTimeMean:  10,
			PartTimeSigma: 2,
			MTTF:          300,
			RepairTime:    30,
			JobDuration:   30,
		},
	}
}

// LoadConfig reads a YAML configuration file. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration on top of the defaults and
// validates it.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig("")

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing scenario config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the selected scenario and its section.
func (c *Config) Validate() error {
	if _, err := Lookup(c.Scenario); err != nil {
		return err
	}

	if c.Until < 0 {
		return fmt.Errorf("until must not be negative, got %v", c.Until)
	}

	switch c.Scenario {
	case "bank":
		return c.Bank.validate()
	case "carwash":
		return c.Carwash.validate()
	case "machineshop":
		return c.MachineShop.validate()
	}

	return nil
}

func (c *BankConfig) validate() error {
	if c.Customers < 0 {
		return fmt.Errorf("bank.customers must not be negative, got %d",
			c.Customers)
	}

	if c.Counters < 1 {
		return fmt.Errorf("bank.counters must be positive, got %d", c.Counters)
	}

	if c.ArrivalInterval <= 0 || c.ServiceTime <= 0 {
		return errors.New("bank.arrival_interval and bank.service_time " +
			"must be positive")
	}

	if c.MinPatience < 0 || c.MaxPatience < c.MinPatience {
		return fmt.Errorf("bank patience range [%v, %v] is invalid",
			c.MinPatience, c.MaxPatience)
	}

	return nil
}

func (c *CarwashConfig) validate() error {
	if c.Machines < 1 || c.DryBuffer < 1 {
		return errors.New("carwash.machines and carwash.dry_buffer " +
			"must be positive")
	}

	if c.InitialCars < 0 {
		return fmt.Errorf("carwash.initial_cars must not be negative, got %d",
			c.InitialCars)
	}

	if c.WashTime < 0 || c.DryTime < 0 {
		return errors.New("carwash.wash_time and carwash.dry_time " +
			"must not be negative")
	}

	if c.ArrivalInterval <= 0 || c.ArrivalSpread < 0 ||
		c.ArrivalSpread > c.ArrivalInterval {
		return fmt.Errorf("carwash arrival interval %v ± %v is invalid",
			c.ArrivalInterval, c.ArrivalSpread)
	}

	return nil
}

func (c *MachineShopConfig) validate() error {
	if c.Machines < 1 {
		return fmt.Errorf("machine_shop.machines must be positive, got %d",
			c.Machines)
	}

	if c.PartTimeMean <= 0 || c.PartTimeSigma < 0 || c.MTTF <= 0 {
		return errors.New("machine_shop.part_time_mean and " +
			"machine_shop.mttf must be positive")
	}

	if c.RepairTime < 0 || c.JobDuration <= 0 {
		return errors.New("machine_shop.repair_time must not be negative " +
			"and machine_shop.job_duration must be positive")
	}

	return nil
}
