package chunker

import (
	"sort"
	"strings"

	"groceryai/pkg/domain"
)

// categoryKeywords maps grocery categories to lowercase substrings matched
// against item names. Static; loaded once.
var categoryKeywords = map[string][]string{
	"dairy":         {"milk", "cheese", "yogurt", "butter", "cream", "egg"},
	"produce":       {"apple", "banana", "orange", "tomato", "potato", "onion", "lettuce", "spinach", "carrot", "broccoli", "pepper", "fruit", "vegetable", "avocado", "berry", "berries", "grape", "lemon", "lime", "cucumber"},
	"meat":          {"chicken", "beef", "pork", "turkey", "ham", "bacon", "sausage", "steak"},
	"seafood":       {"fish", "salmon", "tuna", "shrimp", "crab", "lobster"},
	"bakery":        {"bread", "bagel", "muffin", "croissant", "cake", "donut", "roll", "bun"},
	"beverage":      {"juice", "soda", "water", "coffee", "tea", "beer", "wine", "drink", "cola"},
	"snacks":        {"chips", "cookie", "cracker", "candy", "chocolate", "popcorn", "pretzel", "nuts"},
	"frozen":        {"frozen", "ice cream", "pizza"},
	"grains":        {"rice", "pasta", "cereal", "oat", "flour", "quinoa", "noodle"},
	"condiments":    {"ketchup", "mustard", "mayo", "sauce", "dressing", "oil", "vinegar", "salt", "sugar", "spice", "honey"},
	"household":     {"paper towel", "toilet", "detergent", "soap", "cleaner", "trash", "foil", "sponge"},
	"personal_care": {"shampoo", "toothpaste", "deodorant", "lotion", "razor", "tissue"},
}

// DetectCategories scans item names against the keyword table and returns the
// matched category names sorted alphabetically.
func DetectCategories(items []domain.ReceiptItem) []string {
	matched := make(map[string]bool)
	for _, item := range items {
		name := strings.ToLower(item.Name)
		if name == "" {
			continue
		}
		for category, keywords := range categoryKeywords {
			if matched[category] {
				continue
			}
			for _, keyword := range keywords {
				if strings.Contains(name, keyword) {
					matched[category] = true
					break
				}
			}
		}
	}
	if len(matched) == 0 {
		return nil
	}
	categories := make([]string, 0, len(matched))
	for category := range matched {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}
