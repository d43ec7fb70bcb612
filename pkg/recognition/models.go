package recognition

// Model is a dlib model file and where to fetch it.
type Model struct {
	Name string
	URL  string
}

// ModelFiles lists the files LoadModels expects in the model directory.
// go-face always loads its shape predictor under the 5-point file name;
// blink detection needs eye contours, so the 68-point predictor is
// installed under that name.
var ModelFiles = []Model{
	{
		Name: "shape_predictor_5_face_landmarks.dat",
		URL:  "http://dlib.net/files/shape_predictor_68_face_landmarks.dat.bz2",
	},
	{
		Name: "dlib_face_recognition_resnet_model_v1.dat",
		URL:  "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
	},
	{
		Name: "mmod_human_face_detector.dat",
		URL:  "http://dlib.net/files/mmod_human_face_detector.dat.bz2",
	},
}
