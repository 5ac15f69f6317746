package pinvault

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CellsPerRecord is the fixed grid size of every record.
const CellsPerRecord = 40

// ColorTag is one of the four visual tags assigned to grid cells. Tags
// carry no meaning to the core; they exist so the owner can find their
// secret digits among the decoys.
type ColorTag string

const (
	ColorBlue  ColorTag = "blue"
	ColorGreen ColorTag = "green"
	ColorAmber ColorTag = "amber"
	ColorRose  ColorTag = "rose"
)

// colorTags lists all tags in a stable order.
var colorTags = [...]ColorTag{ColorBlue, ColorGreen, ColorAmber, ColorRose}

var validate = validator.New()

// Cell is one position in a record's grid. Index is derived from the
// cell's position and immutable. Digit is nil for an empty cell;
// IsSecretDigit may only be set when Digit is.
type Cell struct {
	Index         int      `json:"index" validate:"min=0,max=39"`
	ColorTag      ColorTag `json:"color_tag" validate:"oneof=blue green amber rose"`
	Digit         *int     `json:"digit,omitempty" validate:"omitempty,min=0,max=9"`
	IsSecretDigit bool     `json:"is_secret_digit,omitempty"`
}

// Record is one user-named grid of 40 cells. The record store owns
// records; the backup core only ever works on copies.
type Record struct {
	ID        string    `json:"id" validate:"required"`
	Name      string    `json:"name" validate:"required,min=1,max=50"`
	Cells     []Cell    `json:"cells" validate:"len=40,dive"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord creates an empty record with a fresh id and a grid whose
// color tags are evenly distributed (ten cells of each tag, shuffled).
func NewRecord(name string) (*Record, error) {
	now := time.Now().UTC()
	r := &Record{
		ID:        uuid.NewString(),
		Name:      name,
		Cells:     newCellGrid(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// newCellGrid deals an even deck of color tags across the 40 positions.
func newCellGrid() []Cell {
	deck := make([]ColorTag, 0, CellsPerRecord)
	for _, tag := range colorTags {
		for i := 0; i < CellsPerRecord/len(colorTags); i++ {
			deck = append(deck, tag)
		}
	}
	rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})

	cells := make([]Cell, CellsPerRecord)
	for i := range cells {
		cells[i] = Cell{Index: i, ColorTag: deck[i]}
	}
	return cells
}

// Validate checks structural constraints and the record invariants:
// cell indexes match their positions, a secret flag requires a digit,
// and UpdatedAt never precedes CreatedAt.
func (r *Record) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	for i, c := range r.Cells {
		if c.Index != i {
			return fmt.Errorf("invalid record %s: cell at position %d has index %d", r.ID, i, c.Index)
		}
		if c.IsSecretDigit && c.Digit == nil {
			return fmt.Errorf("invalid record %s: cell %d marked secret without a digit", r.ID, i)
		}
	}

	if r.UpdatedAt.Before(r.CreatedAt) {
		return fmt.Errorf("invalid record %s: updated_at precedes created_at", r.ID)
	}
	return nil
}

// SetDigit places a digit in the cell at index and marks whether it is
// one of the owner's secret digits.
func (r *Record) SetDigit(index, digit int, secret bool) error {
	if index < 0 || index >= len(r.Cells) {
		return fmt.Errorf("cell index %d out of range", index)
	}
	if digit < 0 || digit > 9 {
		return fmt.Errorf("digit %d out of range", digit)
	}

	d := digit
	r.Cells[index].Digit = &d
	r.Cells[index].IsSecretDigit = secret
	r.touch()
	return nil
}

// ClearDigit empties the cell at index.
func (r *Record) ClearDigit(index int) error {
	if index < 0 || index >= len(r.Cells) {
		return fmt.Errorf("cell index %d out of range", index)
	}

	r.Cells[index].Digit = nil
	r.Cells[index].IsSecretDigit = false
	r.touch()
	return nil
}

// Rename changes the record's display name.
func (r *Record) Rename(name string) error {
	if len(name) == 0 || len(name) > 50 {
		return errors.New("record name must be 1-50 characters")
	}
	r.Name = name
	r.touch()
	return nil
}

func (r *Record) touch() {
	r.UpdatedAt = time.Now().UTC()
	if r.UpdatedAt.Before(r.CreatedAt) {
		r.UpdatedAt = r.CreatedAt
	}
}

// Clone returns a deep copy. Backups and restores always operate on
// clones so envelope data never aliases store memory.
func (r *Record) Clone() *Record {
	out := *r
	out.Cells = make([]Cell, len(r.Cells))
	for i, c := range r.Cells {
		out.Cells[i] = c
		if c.Digit != nil {
			d := *c.Digit
			out.Cells[i].Digit = &d
		}
	}
	return &out
}
