package etl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCategories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zooplus.json"),
		[]byte(`{"data": ["/shop/dogs/dry_dog_food", "/shop/cats/dry_cat_food"]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bernpetfoods.yaml"),
		[]byte("data:\n  - /product-category/dog-food\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.json"), []byte(`{"data": []}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"data": [`), 0o644))

	t.Run("json", func(t *testing.T) {
		got, err := LoadCategories(dir, "Zooplus")
		require.NoError(t, err)
		assert.Equal(t, []string{"/shop/dogs/dry_dog_food", "/shop/cats/dry_cat_food"}, got)
	})

	t.Run("yaml", func(t *testing.T) {
		got, err := LoadCategories(dir, "BernPetFoods")
		require.NoError(t, err)
		assert.Equal(t, []string{"/product-category/dog-food"}, got)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := LoadCategories(dir, "Empty")
		assert.ErrorIs(t, err, ErrNoCategories)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadCategories(dir, "Petco")
		assert.ErrorIs(t, err, ErrNoCategories)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := LoadCategories(dir, "Broken")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoCategories)
	})
}
