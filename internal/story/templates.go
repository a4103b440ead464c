package story

import (
	"fmt"
	"hash/fnv"
	"os"

	"gopkg.in/yaml.v3"
)

// Fallback templates keep the bot talking when the model is down. Each
// template takes the hero name, ticket key and ticket title, in that order,
// and already satisfies the narrative shape contract.
var defaultTemplates = []string{
	"⚔️ %s charged into the depths of %s and emerged victorious, %q now but a trophy on the wall!",
	"🛡️ With shield raised high, %s stood firm against %s. The quest %q is complete!",
	"🏹 A single arrow from %s found its mark — %s falls, and %q is no more!",
	"🔥 %s summoned ancient flames to purge %s. The saga of %q ends in glory!",
	"🗡️ Blade met beast as %s carved through %s. Another chapter of %q written in triumph!",
	"🐉 %s faced the dragon guarding %s, and the beast never stood a chance. %q is won for the guild!",
	"✨ By wit and will, %s unraveled the riddle of %s. The tale of %q will be sung for ages!",
	"🏰 %s stormed the fortress of %s and planted the banner. %q belongs to the heroes now!",
}

var defaultLoot = []string{
	"Enchanted Keyboard of Swiftness",
	"Potion of Infinite Coffee",
	"Cloak of Merge Conflicts Resolved",
	"Amulet of the Green Pipeline",
	"Boots of Rapid Deployment",
	"Scroll of Ancient Documentation",
	"Ring of Graceful Degradation",
	"Tome of Forgotten Stack Traces",
}

var defaultAchievements = []string{
	"Bug Slayer",
	"Swift Resolver",
	"Deep Diver",
	"Code Whisperer",
	"Night Watch",
	"First Responder",
}

// templateFile is the on-disk override shape. Any section left empty keeps
// its built-in defaults.
type templateFile struct {
	Templates    []string `yaml:"templates"`
	Loot         []string `yaml:"loot"`
	Achievements []string `yaml:"achievements"`
}

// templateSet is the active set of fallback material.
type templateSet struct {
	templates    []string
	loot         []string
	achievements []string
}

func defaultTemplateSet() templateSet {
	return templateSet{
		templates:    defaultTemplates,
		loot:         defaultLoot,
		achievements: defaultAchievements,
	}
}

// loadTemplateSet reads a YAML override file, falling back to the built-in
// sets for any missing section.
func loadTemplateSet(path string) (templateSet, error) {
	set := defaultTemplateSet()
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return set, fmt.Errorf("failed to read templates file: %w", err)
	}
	var tf templateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return set, fmt.Errorf("failed to parse templates file: %w", err)
	}

	if len(tf.Templates) > 0 {
		set.templates = tf.Templates
	}
	if len(tf.Loot) > 0 {
		set.loot = tf.Loot
	}
	if len(tf.Achievements) > 0 {
		set.achievements = tf.Achievements
	}
	return set, nil
}

// pick deterministically selects from a list by hashing the seed string.
func pick(list []string, seed string) string {
	if len(list) == 0 {
		return ""
	}
	h := fnv.New32a()
	h.Write([]byte(seed))
	return list[int(h.Sum32())%len(list)]
}
