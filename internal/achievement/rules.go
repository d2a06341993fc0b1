package achievement

import "strings"

const (
	MountainClimber = "Mountain Climber"
	CultureExplorer = "Culture Explorer"
	NatureLover     = "Nature Lover"
	BeachLover      = "Beach Lover"
	Leader          = "Leader"
)

const (
	TierBronze = "bronze"
	TierSilver = "silver"
	TierGold   = "gold"
)

// Rule 描述一个徽章的分值、解锁门槛和关键字。
type Rule struct {
	Badge     string
	Points    int
	Threshold int
	Keywords  []string
}

// Rules 是全部已知徽章，顺序即展示顺序。Leader 没有关键字，只由领队身份触发。
var Rules = []Rule{
	{Badge: MountainClimber, Points: 50, Threshold: 5, Keywords: []string{"hiking", "trekking", "mountain", "climbing"}},
	{Badge: CultureExplorer, Points: 30, Threshold: 3, Keywords: []string{"cultural", "culture", "heritage", "historical"}},
	{Badge: NatureLover, Points: 30, Threshold: 3, Keywords: []string{"nature", "wildlife", "safari", "forest"}},
	{Badge: BeachLover, Points: 30, Threshold: 3, Keywords: []string{"beach", "coastal", "island", "surf"}},
	{Badge: Leader, Points: 100, Threshold: 3},
}

// Lookup 按名字查找规则，大小写不敏感。
func Lookup(badge string) (Rule, bool) {
	for _, r := range Rules {
		if strings.EqualFold(r.Badge, strings.TrimSpace(badge)) {
			return r, true
		}
	}
	return Rule{}, false
}

// Tier 根据累计数量给出等级。
func (r Rule) Tier(count int) string {
	switch {
	case count >= 2*r.Threshold:
		return TierGold
	case count >= r.Threshold:
		return TierSilver
	default:
		return TierBronze
	}
}
