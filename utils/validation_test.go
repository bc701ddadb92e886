package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type thresholdFixture struct {
	Code    string          `validate:"required,max=8"`
	Kind    string          `validate:"required,oneof=discount margin_floor"`
	Percent decimal.Decimal `validate:"gte=0,lte=100"`
	Steps   []stepFixture   `validate:"dive"`
}

type stepFixture struct {
	ID string `validate:"required"`
}

func TestValidateStruct(t *testing.T) {
	valid := func() thresholdFixture {
		return thresholdFixture{Code: "GR0001", Kind: "discount", Percent: decimal.NewFromInt(15)}
	}

	tests := []struct {
		name      string
		mutate    func(*thresholdFixture)
		wantField string
	}{
		{"valid struct", func(*thresholdFixture) {}, ""},
		{"missing code", func(f *thresholdFixture) { f.Code = "" }, "Code"},
		{"code too long", func(f *thresholdFixture) { f.Code = "GR000000001" }, "Code"},
		{"unknown kind", func(f *thresholdFixture) { f.Kind = "bogus" }, "Kind"},
		{"percent above range", func(f *thresholdFixture) { f.Percent = decimal.RequireFromString("100.5") }, "Percent"},
		{"negative percent", func(f *thresholdFixture) { f.Percent = decimal.NewFromInt(-1) }, "Percent"},
		{"nested element", func(f *thresholdFixture) { f.Steps = []stepFixture{{ID: "a"}, {}} }, "Steps[1].ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid()
			tt.mutate(&f)

			err := ValidateStruct(&f)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, GetValidationFields(err), tt.wantField)
		})
	}
}

func TestValidateStringLength(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		min, max  int
		wantError bool
	}{
		{"within range", "insufficient justification", 10, 0, false},
		{"too short", "no", 10, 0, true},
		{"exact minimum", "0123456789", 10, 0, false},
		{"too long", "abcdef", 0, 5, true},
		{"multibyte counted as runes", "ééééééééé", 10, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStringLength(tt.value, "reason", tt.min, tt.max)
			if tt.wantError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "reason")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	t.Run("message only", func(t *testing.T) {
		err := &ValidationError{Message: "Validation failed"}
		assert.Equal(t, "Validation failed", err.Error())
	})

	t.Run("fields in stable order", func(t *testing.T) {
		err := &ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{"b": "b is bad", "a": "a is bad"},
		}
		assert.Equal(t, "Validation failed: a is bad; b is bad", err.Error())
	})
}

func TestNewFieldError(t *testing.T) {
	err := NewFieldError("personas", "duplicate persona clerk")
	assert.True(t, IsValidationError(err))
	assert.Equal(t, map[string]string{"personas": "duplicate persona clerk"}, GetValidationFields(err))
}

func TestGetValidationFields(t *testing.T) {
	assert.Nil(t, GetValidationFields(assert.AnError))
	assert.False(t, IsValidationError(assert.AnError))
}
