package serialized

import "fmt"

// Class ids of the types the engine interprets.
const (
	ClassTexture2D     int32 = 28
	ClassMesh          int32 = 43
	ClassTextAsset     int32 = 49
	ClassAudioClip     int32 = 83
	ClassMonoBehaviour int32 = 114
	ClassAssetBundle   int32 = 142
)

var classNames = map[int32]string{
	1:   "GameObject",
	4:   "Transform",
	21:  "Material",
	23:  "MeshRenderer",
	28:  "Texture2D",
	33:  "MeshFilter",
	43:  "Mesh",
	48:  "Shader",
	49:  "TextAsset",
	74:  "AnimationClip",
	83:  "AudioClip",
	89:  "Cubemap",
	90:  "Avatar",
	91:  "AnimatorController",
	95:  "Animator",
	114: "MonoBehaviour",
	115: "MonoScript",
	128: "Font",
	137: "SkinnedMeshRenderer",
	142: "AssetBundle",
	150: "PreloadData",
	152: "MovieTexture",
	187: "Texture2DArray",
	213: "Sprite",
	224: "RectTransform",
	687078895: "SpriteAtlas",
}

// ClassName returns Unity's name for a class id.
func ClassName(id int32) string {
	if name, ok := classNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Class%d", id)
}
