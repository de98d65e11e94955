package card

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// 画布为固定逻辑尺寸，导出分辨率为其 4 倍。
const (
	CanvasWidth  = 384.0
	CanvasHeight = 500.0
	ExportScale  = 4
)

// DefaultFieldLabel 是系统唯一会放置的文本域名称。
const DefaultFieldLabel = "Your Name"

// DefaultPosition 是卡片未携带文本域时观看端使用的兜底位置。
var DefaultPosition = Position{X: 108, Y: 108}

// Position 表示文本域相对画布右下角的边距（距右边缘 X、距下边缘 Y）。
// 注意：这不是左上角绝对坐标。
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TextField 表示卡片上的个性化文本域，每张卡片最多一个。
type TextField struct {
	Label    string   `json:"label"`
	Position Position `json:"position"`
}

// Card 是可发布的模板记录。JSON 字段名与持久化格式保持一致，
// 任何改动都会破坏已存储的数据。
type Card struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	SVGURL     string      `json:"svgUrl"`
	Published  bool        `json:"published"`
	URL        string      `json:"url"`
	CreatedAt  time.Time   `json:"createdAt"`
	TextFields []TextField `json:"textFields"`
}

var (
	// ErrFieldAlreadyPlaced 表示编辑槽位已被占用，需先清除再放置。
	ErrFieldAlreadyPlaced = errors.New("text field already placed")
	// ErrNoFieldPlaced 表示当前没有可移动/清除的文本域。
	ErrNoFieldPlaced = errors.New("no text field placed")
	// ErrNotFound 表示请求的卡片不在已发布集合中。
	ErrNotFound = errors.New("card not found")
)

// ClampPosition 将位置收敛到画布范围内。对已在边界上的值重复调用
// 结果不变（幂等）。
func ClampPosition(p Position) Position {
	if p.X < 0 {
		p.X = 0
	}
	if p.X > CanvasWidth {
		p.X = CanvasWidth
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if p.Y > CanvasHeight {
		p.Y = CanvasHeight
	}
	return p
}

// NewField 根据画布内的点击点构造文本域：边距 = 画布尺寸 - 点击坐标。
func NewField(clickX, clickY float64) TextField {
	return TextField{
		Label: DefaultFieldLabel,
		Position: ClampPosition(Position{
			X: CanvasWidth - clickX,
			Y: CanvasHeight - clickY,
		}),
	}
}

// FieldPosition 返回卡片文本域位置；卡片未携带文本域时回落到默认位置。
func (c Card) FieldPosition() Position {
	if len(c.TextFields) == 0 {
		return DefaultPosition
	}
	return c.TextFields[0].Position
}

// Validate 校验单张卡片记录。存储中读出的数据一律先校验再使用，
// 不信任部分写入或历史脏数据。
func (c Card) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("card id is empty")
	}
	if len(c.TextFields) > 1 {
		return fmt.Errorf("card %s: at most one text field allowed, got %d", c.ID, len(c.TextFields))
	}
	for _, f := range c.TextFields {
		p := f.Position
		if p.X < 0 || p.X > CanvasWidth || p.Y < 0 || p.Y > CanvasHeight {
			return fmt.Errorf("card %s: field position (%g, %g) out of canvas bounds", c.ID, p.X, p.Y)
		}
	}
	return nil
}

// ValidateSet 校验一组卡片并检查 id 唯一性。
func ValidateSet(cards []Card) error {
	seen := make(map[string]struct{}, len(cards))
	for _, c := range cards {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, ok := seen[c.ID]; ok {
			return fmt.Errorf("duplicate card id %s", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// PublishedSubset 返回 published 为 true 的子集，保持原有顺序。
func PublishedSubset(cards []Card) []Card {
	result := make([]Card, 0, len(cards))
	for _, c := range cards {
		if c.Published {
			result = append(result, c)
		}
	}
	return result
}

// FindByID 在集合中按 id 查找卡片。
func FindByID(cards []Card, id string) (Card, bool) {
	for _, c := range cards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}
