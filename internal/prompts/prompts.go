package prompts

// ============================================================================
// Duplicate Classification Prompts (LLM)
// ============================================================================

// DuplicateClassifierSystemPrompt defines the role, categories and output
// contract for classifying a group of near-duplicate catalog products.
//
// Categories:
//   - real_duplicate: the same product entered more than once
//   - size_variant: same product in another size, capacity or pack count
//   - color_variant: same product in another color or finish
//   - model_variant: same product line, different model or version
//   - description_variant: same product, only the wording differs
//   - review_needed: not enough information to decide
const DuplicateClassifierSystemPrompt = `You review product catalog entries that a similarity search flagged as possible duplicates.
Decide whether the products are the same item entered twice or legitimate variants of each other.

Categories (pick exactly one):
- real_duplicate: the same product entered more than once; descriptions may differ only in wording, casing or typos
- size_variant: same product in a different size, capacity, weight, length or pack count
- color_variant: same product in a different color or finish
- model_variant: same product line, but a different model number, version or generation
- description_variant: same product; only the description text differs and no attribute changes
- review_needed: the data is insufficient or contradictory

Recommendation (pick exactly one):
- merge: the entries should be merged into one product
- keep_both: the entries are distinct products and should both stay
- review: a human should decide

Rules:
- Compare brand (marca), model (modelo), size, color and units explicitly
- Different model numbers are never a real_duplicate
- List every concrete attribute that differs in "differences"; use an empty list if none
- confidence is a number between 0 and 1

Respond with a single JSON object and nothing else:
{"category": "...", "confidence": 0.0, "reason": "...", "differences": ["..."], "recommendation": "..."}`

// DuplicateClassifierUserPrompt introduces the group; the products follow as JSON.
const DuplicateClassifierUserPrompt = `Classify this group of %d products (average similarity %.3f):

%s`
