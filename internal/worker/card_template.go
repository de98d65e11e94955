package worker

import (
	"bytes"
	"fmt"
	"html/template"

	"egcards/internal/card"
)

// CardTemplateString 是卡片渲染的 Go HTML 模板。
// 布局必须与编辑器预览 100% 匹配：384×500 逻辑画布，模板图 object-fit: cover
// 铺满，文字层贴底居中，再用 margin-right/margin-bottom 把文字从右下角推开。
// 位置值直接使用逻辑像素，放大统一交给截图的 DeviceScaleFactor。
const CardTemplateString = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        html, body {
            margin: 0;
            padding: 0;
            background: transparent;
        }
        .card {
            position: relative;
            width: {{.CanvasWidth}}px;
            height: {{.CanvasHeight}}px;
            overflow: hidden;
            background: transparent;
        }
        .card-image {
            position: absolute;
            inset: 0;
            width: 100%;
            height: 100%;
            object-fit: cover;
        }
        .field-layer {
            position: absolute;
            inset: 0;
            display: flex;
            flex-direction: column;
            justify-content: flex-end;
            align-items: center;
            padding: 32px;
            box-sizing: border-box;
        }
        .field p {
            margin: 0;
            font-family: Arial, sans-serif;
            font-size: 18px;
            color: #ffffff;
            text-align: center;
            letter-spacing: 0.05em;
            text-shadow: 0 1px 3px rgba(0, 0, 0, 0.6);
        }
    </style>
</head>
<body>
    <div class="card">
        <img class="card-image" src="{{.TemplateURL}}" />
        <div class="field-layer">
            <div class="field" style="margin-right: {{.MarginRight}}px; margin-bottom: {{.MarginBottom}}px;">
                <p>{{.Name}}</p>
            </div>
        </div>
    </div>
</body>
</html>
`

var cardTemplate = template.Must(template.New("card").Parse(CardTemplateString))

type cardTemplateData struct {
	CanvasWidth  int
	CanvasHeight int
	TemplateURL  template.URL
	MarginRight  float64
	MarginBottom float64
	Name         string
}

// BuildCardHTML 根据卡片与访客名拼出渲染用的 HTML。
// 文字层始终渲染：卡片未携带文字栏位时使用兜底位置，与观看端预览一致。
func BuildCardHTML(c card.Card, visitorName string) (string, error) {
	pos := card.ClampPosition(c.FieldPosition())
	data := cardTemplateData{
		CanvasWidth:  int(card.CanvasWidth),
		CanvasHeight: int(card.CanvasHeight),
		TemplateURL:  template.URL(c.SVGURL),
		MarginRight:  pos.X,
		MarginBottom: pos.Y,
		Name:         visitorName,
	}

	var buf bytes.Buffer
	if err := cardTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute card template: %w", err)
	}
	return buf.String(), nil
}
