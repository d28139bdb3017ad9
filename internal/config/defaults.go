package config

func defaultCategories() []Category {
	return []Category{
		{
			Name:        "活动",
			Description: []string{"活动海报", "活动通知", "讲座、会议或比赛的宣传"},
			Instruction: "这是一张活动海报或通知，请提取活动的名称、日期、地点和内容。",
			Fields: []Field{
				{Name: "activity_name", Required: true, Description: "活动的官方或主要名称,用中文"},
				{Name: "activity_date", Required: true, Description: "活动举办的具体日期,转换为标准格式dd/mm/yy"},
				{Name: "activity_location", Required: true, Description: "活动举办的物理地点。如果图片中未明确指出，请根据海报内容（如组织单位）进行推断"},
				{Name: "activity_content", Required: true, Description: "用一段话简要概括活动的核心内容，包含哪些主要的活动环节或亮点。文字需精炼，在30字以内"},
			},
		},
		{
			Name:        "经验",
			Description: []string{"职场、人生、情感或学习方面的经验分享", "心得体会"},
			Instruction: "这是一张经验分享的图片，请总结其中的经验类型和核心内容。",
			Fields: []Field{
				{Name: "experience_type", Description: "经验信息的类型，包括工作，人生，情感，学习等，你可以根据图片内容进行判断"},
				{Name: "experience_content", Description: "对核心内容的总结少于300字，要求尽可能体现经验最重要地价值"},
				{Name: "reason", Description: "如果无法提取有效的经验类型和内容，请在此字段中说明原因，其他字段留空。"},
			},
		},
		{
			Name:        "论文",
			Description: []string{"论文、文章或新闻的截图", "学术研究的介绍"},
			Instruction: "这是一张包含论文、文章或新闻的截图，请提取标题和摘要。",
			Fields: []Field{
				{Name: "paper_title", Required: true, Identity: true, Description: "图片中提到的主要论文、文章或研究的标题。如果找不到明确的标题，请根据内容生成一个最合适的标题。"},
				{Name: "abstract", Required: true, Descriptive: true, Description: "**严格**根据图片中的文字进行摘要。只总结图片中明确存在的描述性文字150字内。如果图片中除了标题之外，没有任何关于内容的描述、介绍或摘要性文字，必须返回且仅返回字符串 '无明确内容'。禁止根据标题进行任何形式的推断或创造。"},
			},
		},
	}
}
