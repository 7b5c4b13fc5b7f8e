package layout

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds the physics constants of the simulation.
type Config struct {
	// Repulsion scales the inverse-square push between every pair of nodes.
	Repulsion float64 `yaml:"repulsion" toml:"repulsion"`
	// SpringLength is the rest length of a link.
	SpringLength float64 `yaml:"spring_length" toml:"spring_length"`
	// SpringStiffness scales the pull per unit of deviation from SpringLength.
	SpringStiffness float64 `yaml:"spring_stiffness" toml:"spring_stiffness"`
	// Gravity pulls every node toward the origin, proportional to its offset.
	Gravity float64 `yaml:"gravity" toml:"gravity"`
	// Friction multiplies velocity after every step. Must stay below 1.
	Friction float64 `yaml:"friction" toml:"friction"`
	// CollisionPadding is the minimum gap kept between two boxes.
	CollisionPadding float64 `yaml:"collision_padding" toml:"collision_padding"`
	// CollisionStrength is the fraction of an overlap converted into velocity.
	CollisionStrength float64 `yaml:"collision_strength" toml:"collision_strength"`
	// SpawnRadius is the distance from its neighbour a new node starts at.
	SpawnRadius float64 `yaml:"spawn_radius" toml:"spawn_radius"`
	// WarmupTicks run silently whenever new nodes enter the layout.
	WarmupTicks int `yaml:"warmup_ticks" toml:"warmup_ticks"`
	// TickInterval is the cadence of the live loop.
	TickInterval time.Duration `yaml:"tick_interval" toml:"tick_interval"`
}

// DefaultConfig returns constants tuned for index-card sized nodes packed
// fairly tightly.
func DefaultConfig() Config {
	return Config{
		Repulsion:         150000,
		SpringLength:      180,
		SpringStiffness:   0.005,
		Gravity:           0.0002,
		Friction:          0.6,
		CollisionPadding:  20,
		CollisionStrength: 0.2,
		SpawnRadius:       150,
		WarmupTicks:       300,
		TickInterval:      16 * time.Millisecond,
	}
}

// Validate validates the physics configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Repulsion, validation.Min(0.0)),
		validation.Field(&c.SpringLength, validation.Min(0.0)),
		validation.Field(&c.SpringStiffness, validation.Min(0.0)),
		validation.Field(&c.Gravity, validation.Min(0.0)),
		validation.Field(&c.Friction, validation.Required, validation.Min(0.0), validation.Max(0.99)),
		validation.Field(&c.CollisionPadding, validation.Min(0.0)),
		validation.Field(&c.CollisionStrength, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.SpawnRadius, validation.Min(0.0)),
		validation.Field(&c.WarmupTicks, validation.Min(0), validation.Max(10000)),
		validation.Field(&c.TickInterval, validation.Required, validation.Min(time.Millisecond)),
	)
}
