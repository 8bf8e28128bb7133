package catalog

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New("1.2.0")
	require.NoError(t, err)
	require.NoError(t, c.Register(ActionSchema{
		Name: "adjust_stock",
		Kind: KindBackend,
		Parameters: []ParamSpec{
			{Name: "sku", Type: TypeString, Required: true, Pattern: "^SKU-[0-9]+$"},
			{Name: "delta", Type: TypeInteger, Required: true},
			{Name: "price", Type: TypeNumber},
			{Name: "notify", Type: TypeBoolean},
			{Name: "warehouse", Type: TypeString, Enum: []string{"east", "west"}},
		},
	}))
	return c
}

func TestRegister_DuplicateName(t *testing.T) {
	c := newTestCatalog(t)

	err := c.Register(ActionSchema{Name: "adjust_stock", Kind: KindBackend})
	require.Error(t, err)

	var dup *adkerrors.DuplicateNameError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "adjust_stock", dup.Name)
	assert.Equal(t, 1, c.Len())
}

func TestRegister_InvalidSchema(t *testing.T) {
	tests := []struct {
		name   string
		schema ActionSchema
		reason string
	}{
		{
			name:   "empty name",
			schema: ActionSchema{Kind: KindBackend},
			reason: "name is required",
		},
		{
			name:   "camel case name",
			schema: ActionSchema{Name: "getOrder", Kind: KindBackend},
			reason: "snake_case",
		},
		{
			name: "unknown param type",
			schema: ActionSchema{Name: "a", Kind: KindBackend, Parameters: []ParamSpec{
				{Name: "x", Type: "date"},
			}},
			reason: "unknown type",
		},
		{
			name: "duplicate param",
			schema: ActionSchema{Name: "a", Kind: KindBackend, Parameters: []ParamSpec{
				{Name: "x", Type: TypeString},
				{Name: "x", Type: TypeString},
			}},
			reason: "declared twice",
		},
		{
			name:   "sensitive without topic",
			schema: ActionSchema{Name: "a", Kind: KindBackend, Sensitive: true},
			reason: "policy topic",
		},
		{
			name: "bad pattern",
			schema: ActionSchema{Name: "a", Kind: KindBackend, Parameters: []ParamSpec{
				{Name: "x", Type: TypeString, Pattern: "("},
			}},
			reason: "pattern",
		},
		{
			name:   "unknown kind",
			schema: ActionSchema{Name: "a", Kind: "script"},
			reason: "unknown kind",
		},
		{
			name:   "undeclared entity",
			schema: ActionSchema{Name: "a", Kind: KindBackend, EntityParam: "order_id"},
			reason: "entity parameter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New("1.0.0")
			require.NoError(t, err)

			err = c.Register(tt.schema)
			var invalid *adkerrors.InvalidSchemaError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			assert.Contains(t, invalid.Reason, tt.reason)
			assert.Equal(t, 0, c.Len())
		})
	}
}

func TestRegister_AfterPublish(t *testing.T) {
	c := newTestCatalog(t).Publish()

	err := c.Register(ActionSchema{Name: "other", Kind: KindBackend})
	require.Error(t, err)
	assert.Equal(t, adkerrors.ErrCodeInvalidSchema, adkerrors.CodeOf(err))
	assert.True(t, c.Published())
}

func TestDescribeAll_StableOrder(t *testing.T) {
	c := Default()

	first := c.DescribeAll()
	second := c.DescribeAll()
	assert.Equal(t, first, second)
	assert.Equal(t, []string{ActionGetOrder, ActionSearchKnowledgeBase, ActionProcessRefund}, c.Names())

	// Mutating the returned copy must not leak into the catalog.
	first[0].Parameters[0].Name = "changed"
	again, ok := c.Lookup(ActionGetOrder)
	require.True(t, ok)
	assert.Equal(t, "order_id", again.Parameters[0].Name)
}

func TestDescribeAll_Golden(t *testing.T) {
	out, err := json.MarshalIndent(Default().DescribeAll(), "", "  ")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "default_catalog", append(out, '\n'))
}

func TestValidate_UnknownAction(t *testing.T) {
	_, err := newTestCatalog(t).Validate("delete_everything", nil)

	var unknown *adkerrors.UnknownActionError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "delete_everything", unknown.Name)
}

func TestValidate_MissingListsEveryParameter(t *testing.T) {
	_, err := newTestCatalog(t).Validate("adjust_stock", map[string]any{"price": 1.0})

	var missing *adkerrors.MissingParameterError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"sku", "delta"}, missing.Parameters)
}

func TestValidate_TypeMismatchNamesFirstParameter(t *testing.T) {
	_, err := newTestCatalog(t).Validate("adjust_stock", map[string]any{
		"sku":    "SKU-1",
		"delta":  "many",
		"notify": "perhaps",
	})

	var mismatch *adkerrors.TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "delta", mismatch.Parameter)
	assert.Equal(t, "integer", mismatch.Expected)
	assert.Equal(t, "string", mismatch.Got)
}

func TestValidate_Coercion(t *testing.T) {
	got, err := newTestCatalog(t).Validate("adjust_stock", map[string]any{
		"sku":    "SKU-42",
		"delta":  "3",
		"price":  "150",
		"notify": "true",
		"extra":  "dropped",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"sku":    "SKU-42",
		"delta":  int64(3),
		"price":  150.0,
		"notify": true,
	}, got)
}

func TestValidate_NumberToString(t *testing.T) {
	c, err := New("1.0.0")
	require.NoError(t, err)
	require.NoError(t, c.Register(ActionSchema{
		Name:       "lookup",
		Kind:       KindBackend,
		Parameters: []ParamSpec{{Name: "id", Type: TypeString, Required: true}},
	}))

	got, err := c.Validate("lookup", map[string]any{"id": 123.0})
	require.NoError(t, err)
	assert.Equal(t, "123", got["id"])
}

func TestValidate_IntegerRejectsFraction(t *testing.T) {
	_, err := newTestCatalog(t).Validate("adjust_stock", map[string]any{"sku": "SKU-1", "delta": 1.5})
	assert.Equal(t, adkerrors.ErrCodeTypeMismatch, adkerrors.CodeOf(err))
}

func TestValidate_Constraints(t *testing.T) {
	c := newTestCatalog(t)

	_, err := c.Validate("adjust_stock", map[string]any{"sku": "ABC", "delta": 1})
	assert.Equal(t, adkerrors.ErrCodeConstraintViolation, adkerrors.CodeOf(err))

	_, err = c.Validate("adjust_stock", map[string]any{"sku": "SKU-1", "delta": 1, "warehouse": "north"})
	assert.Equal(t, adkerrors.ErrCodeConstraintViolation, adkerrors.CodeOf(err))

	_, err = c.Validate("adjust_stock", map[string]any{"sku": "SKU-1", "delta": 1, "warehouse": "west"})
	assert.NoError(t, err)
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	args := map[string]any{"sku": "SKU-1", "delta": "2"}
	_, err := newTestCatalog(t).Validate("adjust_stock", args)
	require.NoError(t, err)
	assert.Equal(t, "2", args["delta"])
}

func TestFingerprint(t *testing.T) {
	a, err := Default().Fingerprint()
	require.NoError(t, err)
	b, err := Default().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	other, err := newTestCatalog(t).Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestVersionCompatibility(t *testing.T) {
	c := newTestCatalog(t)
	assert.Equal(t, "1.2.0", c.Version().String())

	ok, err := c.Compatible("^1.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Compatible(">= 2.0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = New("not-a-version")
	assert.Error(t, err)
}

func TestJSONSchema(t *testing.T) {
	schema, err := Default().JSONSchema(ActionProcessRefund)
	require.NoError(t, err)

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"order_id", "reason"}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "order_id")
	assert.Contains(t, props, "reason")

	_, err = Default().JSONSchema("nope")
	assert.Equal(t, adkerrors.ErrCodeUnknownAction, adkerrors.CodeOf(err))
}
